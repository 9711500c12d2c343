package server

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// Portal is the admin HTTP surface: health, runtime stats, the channel
// table, and Prometheus metrics. It binds separately from the chat
// listener and is expected to stay on a loopback or otherwise guarded
// address.
type Portal struct {
	srv  *Server
	echo *echo.Echo
}

func newPortal(srv *Server) *Portal {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	p := &Portal{srv: srv, echo: e}
	e.GET("/healthz", p.health)
	e.GET("/stats", p.stats)
	e.GET("/channels", p.channels)
	e.GET("/metrics", echo.WrapHandler(srv.metrics.Handler()))
	return p
}

func (p *Portal) start(addr string) {
	go func() {
		if err := p.echo.Start(addr); err != nil && err != http.ErrServerClosed {
			log.Printf("*** admin portal: %v", err)
		}
	}()
}

func (p *Portal) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p.echo.Shutdown(ctx)
}

func (p *Portal) health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

type statsResponse struct {
	Server   string `json:"server"`
	Network  string `json:"network"`
	Uptime   string `json:"uptime"`
	Sessions int    `json:"sessions"`
	Channels int    `json:"channels"`
}

func (p *Portal) stats(c echo.Context) error {
	return c.JSON(http.StatusOK, statsResponse{
		Server:   p.srv.cfg.Server.Name,
		Network:  p.srv.cfg.Server.Network,
		Uptime:   time.Since(p.srv.startTime).Round(time.Second).String(),
		Sessions: p.srv.registry.SessionCount(),
		Channels: p.srv.registry.ChannelCount(),
	})
}

type channelResponse struct {
	Name    string `json:"name"`
	Members int    `json:"members"`
	Topic   string `json:"topic,omitempty"`
}

func (p *Portal) channels(c echo.Context) error {
	chans := p.srv.registry.Channels()
	out := make([]channelResponse, 0, len(chans))
	for _, ch := range chans {
		topic, _, _ := ch.Topic()
		out = append(out, channelResponse{
			Name:    ch.Name,
			Members: ch.memberCount(),
			Topic:   topic,
		})
	}
	return c.JSON(http.StatusOK, out)
}
