// Package feed serves translated device state changes over a websocket.
//
// Every client receives a snapshot of the known device states when it
// connects, followed by one JSON text message per state change:
//
//	{"deviceId":"D1","name":"Living room AC","type":"air_conditioner",
//	 "source":"push","state":{"status":"known","on":true,"mode":"heat",...},
//	 "time":"2025-01-02T15:04:05Z"}
//
// The feed is read only. Messages sent by clients are discarded; they only
// keep the connection alive alongside the server's pings.
//
// # Usage Example
//
//	srv := feed.New(feed.Config{Addr: "127.0.0.1:8765", Snapshot: coord.Snapshot})
//	coord.OnChange(srv.Publish)
//	if err := srv.Start(); err != nil {
//	    return err
//	}
//	defer srv.Shutdown(context.Background())
package feed
