// Command conduit runs an echo service on a configured binding, or calls one.
//
//	conduit serve -config conduit.toml
//	conduit call -config conduit.toml -body hello
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/linchenxuan/conduit"
	"github.com/linchenxuan/conduit/log"
	"github.com/linchenxuan/conduit/network/binding"
	"github.com/linchenxuan/conduit/network/channel"
	"github.com/linchenxuan/conduit/network/message"
)

const echoAction = "urn:conduit:echo"

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(os.Args[2:])
	case "call":
		err = runCall(os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "conduit: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: conduit serve|call -config <file> [-body <text>]")
}

func setup(args []string, name string) (*conduit.Conduit, serviceConfig, *binding.Binding, string, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	path := fs.String("config", "conduit.toml", "configuration file")
	body := fs.String("body", "hello", "request body for call")
	if err := fs.Parse(args); err != nil {
		return nil, serviceConfig{}, nil, "", err
	}
	cfg, err := loadServiceConfig(*path)
	if err != nil {
		return nil, serviceConfig{}, nil, "", err
	}
	app, err := conduit.New(&cfg.Log)
	if err != nil {
		return nil, serviceConfig{}, nil, "", err
	}
	if err := app.SetupPlugins(cfg.Plugin); err != nil {
		app.Stop()
		return nil, serviceConfig{}, nil, "", err
	}
	b, err := app.LoadBinding(cfg.Binding)
	if err != nil {
		app.Stop()
		return nil, serviceConfig{}, nil, "", err
	}
	return app, cfg, b, *body, nil
}

func runServe(args []string) error {
	app, cfg, b, _, err := setup(args, "serve")
	if err != nil {
		return err
	}
	defer app.Stop()
	if cfg.Listen.IsZero() {
		return errors.New("serve: listen address is required")
	}

	shape := channel.ShapeReply
	if cfg.Duplex {
		shape = channel.ShapeDuplex
	}
	l, err := b.BuildListener(shape, cfg.Listen)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := l.Open(ctx); err != nil {
		return err
	}
	log.Info().Str("uri", l.URI().String()).Str("shape", shape.String()).Msg("serving")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-gctx.Done()
		return l.Close(context.Background())
	})
	g.Go(func() error {
		for {
			ch, err := l.AcceptChannel(gctx)
			if err != nil {
				if gctx.Err() != nil {
					return nil
				}
				return err
			}
			if ch == nil {
				if l.State().Terminal() || gctx.Err() != nil {
					return nil
				}
				continue
			}
			g.Go(func() error {
				serveChannel(gctx, ch)
				return nil
			})
		}
	})
	return g.Wait()
}

// serveChannel echoes every message of ch until the peer ends it.
func serveChannel(ctx context.Context, ch channel.Channel) {
	defer func() {
		if err := ch.Close(context.Background()); err != nil {
			log.Warn().Str("channel", ch.ID()).Err(err).Msg("close failed")
		}
	}()
	if err := ch.Open(ctx); err != nil {
		log.Warn().Str("channel", ch.ID()).Err(err).Msg("open failed")
		return
	}
	switch c := ch.(type) {
	case channel.ReplyChannel:
		for {
			req, err := c.ReceiveRequest(ctx)
			if err != nil {
				logEnd(ch, err)
				return
			}
			body, _ := req.Request().Body()
			if err := req.Reply(ctx, message.New(message.VersionDefault, echoAction, body)); err != nil {
				log.Warn().Str("channel", ch.ID()).Err(err).Msg("reply failed")
				return
			}
		}
	case channel.DuplexChannel:
		for {
			msg, err := c.Receive(ctx)
			if err != nil {
				logEnd(ch, err)
				return
			}
			body, _ := msg.Body()
			if err := c.Send(ctx, message.New(message.VersionDefault, echoAction, body)); err != nil {
				log.Warn().Str("channel", ch.ID()).Err(err).Msg("send failed")
				return
			}
		}
	}
}

func logEnd(ch channel.Channel, err error) {
	if errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) {
		log.Debug().Str("channel", ch.ID()).Msg("channel ended")
		return
	}
	log.Warn().Str("channel", ch.ID()).Err(err).Msg("receive failed")
}

func runCall(args []string) error {
	app, cfg, b, body, err := setup(args, "call")
	if err != nil {
		return err
	}
	defer app.Stop()
	if cfg.Address.IsZero() {
		return errors.New("call: address is required")
	}

	shape := channel.ShapeRequest
	if cfg.Duplex {
		shape = channel.ShapeDuplex
	}
	f, err := b.BuildFactory(shape)
	if err != nil {
		return err
	}
	ctx := context.Background()
	if err := f.Open(ctx); err != nil {
		return err
	}
	defer f.Close(ctx)

	ch, err := f.CreateChannel(cfg.Address, channel.EndpointAddress{})
	if err != nil {
		return err
	}
	if err := ch.Open(ctx); err != nil {
		return err
	}
	defer ch.Close(ctx)

	req := message.New(message.VersionDefault, echoAction, []byte(body))
	var reply *message.Message
	switch c := ch.(type) {
	case channel.RequestChannel:
		reply, err = c.Request(ctx, req)
	case channel.DuplexChannel:
		if err = c.Send(ctx, req); err == nil {
			reply, err = c.Receive(ctx)
		}
	}
	if err != nil {
		return err
	}
	out, err := reply.Body()
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
