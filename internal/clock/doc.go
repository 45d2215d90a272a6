// Package clock abstracts time for the realtime client.
//
// Production code uses Real. Tests use Manual, a virtual clock whose timers
// fire only when the test advances it. Manual runs callbacks outside its own
// lock, so a callback may read Now or schedule further timers.
package clock
