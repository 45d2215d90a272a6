// Package realtime is the consumer API of gridpulse.
//
// A Client owns one Connection Manager, Event Store, Dispatcher and
// Resource Manager. Inbound events are routed by a single goroutine: each
// one is appended to the store and then published to the dispatcher, so
// within a kind consumers observe arrival order.
//
//	c, err := realtime.New(realtime.DefaultConfig(url), logger)
//	if err != nil { ... }
//	defer c.Close()
//
//	unsub, _ := dispatch.Throttle(c.Dispatcher(), event.DeviceReading, time.Second,
//		func(r event.Reading, _ event.Event) { ... })
//	defer unsub()
//
//	err = c.Connect(ctx, creds)
package realtime
