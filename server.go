package objbus

import (
	"context"
	"errors"
	"io"

	"github.com/creachadair/taskgroup"
	"github.com/sirupsen/logrus"
)

// A Transport delivers incoming calls and carries replies and signals
// back out. Implementations own all message framing concerns; the
// server only sees deserialized [Call]s and serialized [Reply] and
// [SignalMessage] payloads.
//
// Receive should return [io.EOF] when the transport has shut down
// cleanly.
type Transport interface {
	Receive(ctx context.Context) (*Call, error)
	SendReply(ctx context.Context, call *Call, reply *Reply) error
	SendSignal(ctx context.Context, sig *SignalMessage) error
}

// A Server pumps calls from a transport through an [Object]'s
// dispatcher. Each call is served on its own goroutine, so slow
// handlers do not hold up the receive loop.
type Server struct {
	obj *Object
	tr  Transport
	log logrus.FieldLogger
}

// NewServer returns a Server serving obj over tr. If log is nil, the
// logrus standard logger is used.
func NewServer(obj *Object, tr Transport, log logrus.FieldLogger) *Server {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if obj.Log == nil {
		obj.Log = log
	}
	return &Server{obj: obj, tr: tr, log: log}
}

// Object returns the object the server dispatches to.
func (s *Server) Object() *Object { return s.obj }

// Run receives and serves calls until ctx is canceled or the
// transport shuts down. It returns once all in-flight handlers have
// finished.
func (s *Server) Run(ctx context.Context) error {
	s.log.WithField("path", s.obj.Path()).Info("serving object")

	g := taskgroup.New(nil)
	defer g.Wait()
	for {
		call, err := s.tr.Receive(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) {
				s.log.Info("transport closed, shutting down")
				return nil
			}
			return err
		}
		g.Go(func() error {
			s.serve(ctx, call)
			return nil
		})
	}
}

func (s *Server) serve(ctx context.Context, call *Call) {
	log := s.log.WithFields(logrus.Fields{
		"interface": call.Interface,
		"member":    call.Member,
		"signature": call.Signature,
	})
	log.Debug("dispatching call")

	reply := s.obj.DispatchCall(ctx, call)
	if reply.Err != nil {
		log.WithField("error", reply.Err.Name).Debug("call failed")
	}
	if !reply.NoReply {
		if err := s.tr.SendReply(ctx, call, reply); err != nil {
			log.WithError(err).Error("sending reply")
			return
		}
	}
	for _, sig := range reply.Signals {
		if err := s.tr.SendSignal(ctx, sig); err != nil {
			log.WithError(err).Error("sending signal")
		}
	}
}

// Emit serializes and sends an emission of a signal registered on the
// served object.
func (s *Server) Emit(ctx context.Context, iface, member string, args ...any) error {
	sig, err := s.obj.EmitSignal(iface, member, nil, args...)
	if err != nil {
		return err
	}
	return s.tr.SendSignal(ctx, sig)
}
