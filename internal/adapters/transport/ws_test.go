package transport_test

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/chronomesh/chronomesh/internal/adapters/transport"
	"github.com/chronomesh/chronomesh/internal/adapters/wire"
)

func TestWS_Exchange(t *testing.T) {
	Convey("Given a device serving the protocol over WebSocket", t, func() {
		srv := httptest.NewServer(transport.NewWSServer(echoHandler))
		defer srv.Close()
		addr := strings.TrimPrefix(srv.URL, "http://")

		ws := transport.NewWS(transport.WithEndpointPath("/"))
		defer ws.Close()

		Convey("When a sync request is exchanged", func() {
			reply, err := ws.Exchange(context.Background(), addr,
				wire.SyncRequest{DeviceID: "cam-01", ClientSend: 7}, time.Second)

			Convey("Then the reply decodes to the handler's response", func() {
				So(err, ShouldBeNil)
				resp, ok := reply.(wire.SyncResponse)
				So(ok, ShouldBeTrue)
				So(resp.DeviceID, ShouldEqual, "cam-01")
				So(resp.ClientSend, ShouldEqual, 7)
			})

			Convey("And the connection is reused for the next exchange", func() {
				again, err := ws.Exchange(context.Background(), addr,
					wire.SyncRequest{DeviceID: "cam-01", ClientSend: 8}, time.Second)
				So(err, ShouldBeNil)
				So(again.(wire.SyncResponse).ClientSend, ShouldEqual, 8)
			})
		})

		Convey("When the peer address is unreachable", func() {
			_, err := ws.Exchange(context.Background(), "127.0.0.1:1",
				wire.SyncRequest{DeviceID: "cam-01", ClientSend: 7}, 200*time.Millisecond)
			So(err, ShouldWrap, transport.ErrNetwork)
		})

		Convey("When the transport is closed", func() {
			So(ws.Close(), ShouldBeNil)
			_, err := ws.Exchange(context.Background(), addr,
				wire.SyncRequest{DeviceID: "cam-01", ClientSend: 7}, time.Second)
			So(err, ShouldWrap, transport.ErrClosed)
		})
	})
}

func TestWSServer_HandlerError(t *testing.T) {
	Convey("Given a device whose handler refuses the message", t, func() {
		srv := httptest.NewServer(transport.NewWSServer(func(_ context.Context, _ wire.Message) (wire.Message, error) {
			return nil, context.Canceled
		}))
		defer srv.Close()
		addr := strings.TrimPrefix(srv.URL, "http://")

		ws := transport.NewWS(transport.WithEndpointPath("/"))
		defer ws.Close()

		Convey("When the engine exchanges with it", func() {
			_, err := ws.Exchange(context.Background(), addr,
				wire.Heartbeat{DeviceID: "cam-01", Seq: 1}, 100*time.Millisecond)

			Convey("Then the missing reply reads as a timeout", func() {
				So(err, ShouldWrap, transport.ErrTimeout)
			})
		})
	})
}
