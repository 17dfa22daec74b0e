// Package natsclient manages the single NATS connection used when vol2mqtt publishes
// to NATS instead of MQTT.
//
// The client wraps nats.go with a small lifecycle (Disconnected → Connecting →
// Connected → Closed), classified errors and a callback for a connection that closes
// on its own. Reconnection is disabled: a lost connection ends the process
// and the supervisor restarts it.
//
// # Basic Usage
//
//	client, err := natsclient.NewClient("nats://localhost:4222",
//	    natsclient.WithName("vol2mqtt"),
//	    natsclient.WithFlushTimeout(2*time.Second),
//	    natsclient.WithConnectionLostCallback(func(err error) {
//	        lost <- err
//	    }),
//	)
//	if err != nil {
//	    return err
//	}
//
//	if err := client.Connect(ctx); err != nil {
//	    return err // errors.ErrNotConnected, fatal
//	}
//	defer client.Close(ctx)
//
//	err = client.Publish(ctx, "home.livingroom.volume", []byte("-23.4"))
//
// # Testing
//
// NewTestClient starts a throwaway NATS server with testcontainers and returns a
// connected client. It needs a working Docker daemon.
package natsclient
