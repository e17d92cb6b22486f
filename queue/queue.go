// Package queue carries commands over NATS.
//
// Clients publish command envelopes to one work subject. A Consumer in the
// executor process subscribes to it in a queue group and hands messages to
// the executor in receipt order. Commands that ask for a reply name the
// client's inbox as the reply subject and carry a Correlation-Id header the
// client matches replies against. A value reply hands the value back by copy
// and keeps no reference for it; reads of existing references use the
// Orange-Fetch header and reserve none either.
package queue

import (
	"fmt"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/tliron/commonlog"

	"github.com/astaric/orangeremote/errors"
)

var log = commonlog.GetLogger("orange.queue")

// Message headers.
const (
	HeaderCorrelation = "Correlation-Id"
	// HeaderReply is "reference" or "value". Messages without it get no reply.
	HeaderReply       = "Orange-Reply"
	HeaderSession     = "Orange-Session"
	HeaderErrorKind   = "Orange-Error-Kind"
	HeaderContentType = "Content-Type"
	// HeaderFetch names the reference a value read asks for. Such messages
	// have an empty body and create no reference.
	HeaderFetch = "Orange-Fetch"
)

const (
	replyReference = "reference"
	replyValue     = "value"

	contentTypeBinary = "application/octet-stream"
)

// RunEmbedded starts an in-process NATS server on host:port. A port of -1
// picks a free one. The caller shuts it down with Shutdown.
func RunEmbedded(host string, port int) (*server.Server, error) {
	ns, err := server.NewServer(&server.Options{
		Host:   host,
		Port:   port,
		NoLog:  true,
		NoSigs: true,
	})
	if err != nil {
		return nil, fmt.Errorf("cannot create NATS server: %w", err)
	}
	go ns.Start()
	if !ns.ReadyForConnections(5 * time.Second) {
		ns.Shutdown()
		return nil, errors.Newf(errors.TransportFailure, "queue.embedded", "NATS server on %s:%d did not start", host, port)
	}
	log.Infof("embedded NATS server listening on %s", ns.ClientURL())
	return ns, nil
}
