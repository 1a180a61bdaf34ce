package clients

import (
	"context"
	"log"
	"sync"

	"comanda-pos/config"
	"comanda-pos/internal/channel"
	"comanda-pos/internal/database"
	"comanda-pos/internal/guard"
	"comanda-pos/internal/kitchen"
	"comanda-pos/internal/services/pos/handler"
	"comanda-pos/internal/session"
)

// Terminal owns the services of the signed-in operator. They are built on
// sign-in and torn down on sign-out, so a nil service means nobody is
// signed in.
type Terminal struct {
	ch       channel.Channel
	api      handler.API
	guards   *guard.Set
	sessions *session.Manager
	ledger   *database.Ledger
	cfg      config.Config

	mu      sync.RWMutex
	pos     *handler.POSHandler
	kitchen *kitchen.Board
}

func NewTerminal(ch channel.Channel, api handler.API, sessions *session.Manager, cfg config.Config) *Terminal {
	t := &Terminal{
		ch:       ch,
		api:      api,
		guards:   guard.New(cfg.Timeouts.GuardCooldown),
		sessions: sessions,
		cfg:      cfg,
	}
	sessions.OnSignOut(func(rec session.Record) {
		log.Printf("Operator %s signed out", rec.Username)
		t.teardown()
	})
	return t
}

func (t *Terminal) WithLedger(l *database.Ledger) *Terminal {
	t.ledger = l
	return t
}

// Start restores a persisted session and, when it is still valid, brings the
// operator's services back up.
func (t *Terminal) Start(ctx context.Context) error {
	rec, err := t.sessions.Restore(ctx)
	if err != nil {
		return err
	}
	if t.sessions.SignedIn() {
		t.build(rec)
		log.Printf("Restored session of %s", rec.Username)
	}
	return nil
}

func (t *Terminal) SignIn(ctx context.Context, p session.SignInParams) (session.Record, error) {
	if p.Shop == "" {
		p.Shop = t.cfg.Terminal.Shop
	}
	rec, err := t.sessions.SignIn(ctx, p)
	if err != nil {
		return session.Record{}, err
	}
	t.build(rec)
	return rec, nil
}

func (t *Terminal) SignOut(ctx context.Context) error {
	err := t.sessions.SignOut(ctx)
	t.teardown()
	return err
}

func (t *Terminal) Session() session.Record { return t.sessions.Current() }

func (t *Terminal) SignedIn() bool { return t.sessions.SignedIn() }

func (t *Terminal) Connected() bool { return t.ch.Connected() }

func (t *Terminal) POS() *handler.POSHandler {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.pos
}

func (t *Terminal) Kitchen() *kitchen.Board {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.kitchen
}

func (t *Terminal) Ledger() *database.Ledger { return t.ledger }

func (t *Terminal) API() handler.API { return t.api }

func (t *Terminal) build(rec session.Record) {
	shop := rec.Shop
	if shop == "" {
		shop = t.cfg.Terminal.Shop
	}

	pos := handler.NewPOSHandler(t.ch, t.api, t.guards, handler.Options{
		Shop:           shop,
		Username:       rec.Username,
		Token:          rec.AuthToken(),
		TokenUser:      rec.TokenUser,
		PaymentMethods: t.cfg.Terminal.PaymentMethods,
		ServiceRate:    t.cfg.Terminal.ServiceChargeRate,
		TabListTimeout: t.cfg.Timeouts.TabList,
		ItemTimeout:    t.cfg.Timeouts.ItemFetch,
		UndoCooldown:   t.cfg.Timeouts.UndoCooldown,
	})
	if t.ledger != nil {
		pos.WithLedger(t.ledger.ForOperator(rec.Username))
	}
	board := kitchen.NewBoard(t.ch, t.guards, kitchen.Config{
		Shop:     shop,
		Username: rec.Username,
		Token:    rec.AuthToken(),
		Role:     rec.Role,
	})

	t.mu.Lock()
	prevPOS, prevKitchen := t.pos, t.kitchen
	t.pos, t.kitchen = pos, board
	t.mu.Unlock()

	closeServices(prevPOS, prevKitchen)
}

func (t *Terminal) teardown() {
	t.mu.Lock()
	pos, board := t.pos, t.kitchen
	t.pos, t.kitchen = nil, nil
	t.mu.Unlock()

	closeServices(pos, board)
	t.guards.Reset()
}

func closeServices(pos *handler.POSHandler, board *kitchen.Board) {
	if pos != nil {
		pos.Close()
	}
	if board != nil {
		board.Close()
	}
}

func (t *Terminal) Close() {
	t.teardown()
}
