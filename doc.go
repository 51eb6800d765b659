// Package sentrykit is the client core of an error and performance
// telemetry SDK speaking the Sentry envelope protocol.
//
// Applications instrument their code through hubs: per-goroutine context
// objects holding a stack of scopes and the installed client. Captured
// events flow through the scope overlay, registered integrations, the
// BeforeSend hook and sampling before being framed into envelopes and
// handed to an asynchronous transport. Transactions and spans, release
// health sessions and structured logs ride the same transport through their
// own background workers.
//
// Typical usage:
//
//	guard := sentrykit.Init(sentrykit.ClientOptions{
//		Dsn:     "https://key@sentry.example.com/42",
//		Release: "my-service@1.4.2",
//	})
//	defer guard.Close()
//
//	sentrykit.CaptureMessage("something happened", sentrykit.LevelInfo)
//
// Goroutines must not share a hub; derive one per goroutine:
//
//	hub := sentrykit.CurrentHub().Clone()
//	go func() {
//		ctx := sentrykit.SetHubOnContext(context.Background(), hub)
//		work(ctx)
//	}()
package sentrykit
