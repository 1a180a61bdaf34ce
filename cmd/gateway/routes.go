package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"comanda-pos/config"
	"comanda-pos/internal/backend"
	"comanda-pos/internal/channel"
	"comanda-pos/internal/database"
	"comanda-pos/internal/gateway/clients"
	"comanda-pos/internal/gateway/handlers"
	"comanda-pos/internal/gateway/middleware"
	"comanda-pos/internal/session"

	"github.com/gin-gonic/gin"
)

func main() {
	cfg := config.LoadConfig()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sessions := session.NewManager(newSessionStore(cfg))
	rec, err := sessions.Restore(ctx)
	if err != nil {
		log.Printf("⚠️ Could not restore session: %v", err)
	}

	ch, closeChannel := openChannel(ctx, cfg, rec)
	defer closeChannel()

	api := backend.NewClient(cfg.Backend.APIURL, cfg.Terminal.Shop, cfg.Backend.HTTPTimeout)
	terminal := clients.NewTerminal(ch, api, sessions, cfg)
	defer terminal.Close()

	if cfg.DB.DSN != "" {
		db, err := database.NewConnection(cfg.DB.DSN)
		if err != nil {
			log.Fatalf("Failed to connect to ledger database: %v", err)
		}
		if err := database.MigratePOSDB(db); err != nil {
			log.Fatalf("Failed to migrate ledger database: %v", err)
		}
		terminal.WithLedger(database.NewLedger(db, cfg.Terminal.Shop, ""))
		log.Println("✅ Ledger enabled")
	}

	if err := terminal.Start(ctx); err != nil {
		log.Printf("⚠️ Terminal started without a session: %v", err)
	}

	srv := &http.Server{
		Addr:    ":" + cfg.Gateway.Port,
		Handler: newRouter(terminal, cfg),
	}

	go func() {
		log.Printf("Starting server on port %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("🛑 Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown failed: %v", err)
	}
}

func newSessionStore(cfg config.Config) session.Store {
	prefix := "pos:" + cfg.Terminal.Shop + ":"
	if cfg.Session.Store == "memory" {
		log.Println("⚠️ Sessions are kept in memory and will not survive a restart")
		return session.NewMemoryStore()
	}
	return session.NewRedisStore(config.NewSessionRedis(cfg.Redis), prefix)
}

// openChannel starts the configured driver. The websocket keeps redialing in
// the background, so a failed first dial only logs.
func openChannel(ctx context.Context, cfg config.Config, rec session.Record) (channel.Channel, func()) {
	switch cfg.Channel.Driver {
	case "redis":
		bus, err := channel.NewRedisBus(ctx, config.NewRedisClient(cfg.Redis), cfg.Terminal.Shop)
		if err != nil {
			log.Fatalf("Failed to subscribe to the push channel: %v", err)
		}
		log.Println("✅ Connected to the Redis push channel")
		return bus, func() { bus.Close() }
	default:
		sock := channel.NewSocket(channel.SocketConfig{
			URL:            cfg.Backend.SocketURL,
			Shop:           cfg.Terminal.Shop,
			Username:       rec.Username,
			Token:          rec.AuthToken(),
			ReconnectDelay: cfg.Channel.ReconnectDelay,
			DialTimeout:    cfg.Channel.DialTimeout,
		})
		if err := sock.Connect(ctx); err != nil {
			log.Printf("⚠️ Socket not connected yet, retrying in the background: %v", err)
		} else {
			log.Println("✅ Connected to the push socket")
		}
		return sock, func() { sock.Close() }
	}
}

func newRouter(terminal *clients.Terminal, cfg config.Config) *gin.Engine {
	r := gin.New()

	r.Use(middleware.CORS())
	r.Use(gin.Logger())
	r.Use(gin.Recovery())
	r.Use(middleware.RateLimit(cfg.Gateway.RateLimit))
	r.Use(channelStatusMiddleware(terminal))

	sessionHandler := handlers.NewSessionHTTPHandler(terminal, cfg.Auth.JWTSecret)
	posHandler := handlers.NewPOSHTTPHandler(terminal)
	kitchenHandler := handlers.NewKitchenHTTPHandler(terminal)
	stockHandler := handlers.NewStockHTTPHandler(terminal)

	// --- Public API Group ---
	public := r.Group("/api/v1")
	{
		public.POST("/session", sessionHandler.SignIn)
		public.GET("/session", sessionHandler.Current)
		public.DELETE("/session", sessionHandler.SignOut)
	}

	// --- Protected API Group ---
	protected := r.Group("/api/v1")
	protected.Use(middleware.SessionAuth(terminal))
	{
		protected.GET("/menu", posHandler.ListMenu)
		protected.POST("/menu/refresh", posHandler.RefreshMenu)
		protected.GET("/alerts", posHandler.Alerts)
		protected.GET("/stock/:item", stockHandler.CheckStock)

		selection := protected.Group("/selection")
		{
			selection.POST("", posHandler.SelectItem)
			selection.GET("", posHandler.GetSelection)
			selection.DELETE("", posHandler.ClearSelection)
			selection.POST("/options", posHandler.ToggleOption)
			selection.PUT("/quantity", posHandler.SetQuantity)
		}

		cart := protected.Group("/cart")
		{
			cart.GET("", posHandler.GetCart)
			cart.POST("", posHandler.AddToCart)
			cart.POST("/:index/increment", posHandler.IncrementCartLine)
			cart.POST("/:index/decrement", posHandler.DecrementCartLine)
			cart.DELETE("/:index", posHandler.RemoveCartLine)
		}

		orders := protected.Group("/orders")
		{
			orders.POST("", posHandler.PlaceOrder)
			orders.POST("/gift", posHandler.AddGift)
		}

		tabs := protected.Group("/tabs")
		{
			tabs.GET("", posHandler.ListTabs)
			tabs.POST("/refresh", posHandler.RefreshTabs)
			tabs.POST("/open", posHandler.OpenTab)
			tabs.GET("/:id/settlements", stockHandler.ListSettlements)
		}

		current := protected.Group("/tab")
		{
			current.GET("", posHandler.GetTab)
			current.DELETE("", posHandler.CloseTab)
			current.POST("/navigate", posHandler.Navigate)
			current.POST("/filter", posHandler.FilterByName)
			current.DELETE("/filter", posHandler.ShowAll)
			current.POST("/edit", posHandler.BeginEdit)
			current.PUT("/edit/lines/:index", posHandler.AdjustLine)
			current.DELETE("/edit", posHandler.CancelEdit)
			current.POST("/edit/confirm", posHandler.ConfirmEdit)
			current.POST("/undo", posHandler.UndoLastPayment)
			current.POST("/transfer", posHandler.Transfer)
			current.GET("/payments", posHandler.ListPayments)
			current.DELETE("/payments/:id", posHandler.DeletePayment)
			current.POST("/values", posHandler.AlterValue)

			pay := current.Group("/settlement")
			{
				pay.GET("", posHandler.GetSettlement)
				pay.POST("", posHandler.BeginSettlement)
				pay.DELETE("", posHandler.CancelSettlement)
				pay.POST("/units/:index/increment", posHandler.IncrementUnits)
				pay.POST("/units/:index/decrement", posHandler.DecrementUnits)
				pay.PUT("/amount", posHandler.SetPartialAmount)
				pay.PUT("/method", posHandler.SetMethod)
				pay.PUT("/service", posHandler.SetServiceCharge)
				pay.PUT("/gratuity", posHandler.SetGratuity)
				pay.POST("/confirm", posHandler.ConfirmSettlement)
			}
		}

		kitchenGroup := protected.Group("/kitchen")
		{
			kitchenGroup.GET("/orders", kitchenHandler.ListOrders)
			kitchenGroup.POST("/refresh", kitchenHandler.Refresh)
			kitchenGroup.PUT("/orders/:id", kitchenHandler.SaveOrder)
			kitchenGroup.POST("/orders/:id/confirm", kitchenHandler.ConfirmOrder)
			kitchenGroup.DELETE("/orders/:id", kitchenHandler.DeleteOrder)
		}
	}

	r.GET("/health", healthCheckHandler(terminal))

	return r
}

func channelStatusMiddleware(terminal *clients.Terminal) gin.HandlerFunc {
	return func(c *gin.Context) {
		if terminal.Connected() {
			c.Header("X-Channel", "connected")
		} else {
			c.Header("X-Channel", "disconnected")
		}
		c.Next()
	}
}

func healthCheckHandler(terminal *clients.Terminal) gin.HandlerFunc {
	return func(c *gin.Context) {
		status := "healthy"
		httpStatus := http.StatusOK

		if !terminal.Connected() {
			status = "degraded"
			httpStatus = http.StatusPartialContent
		}

		var operator string
		if terminal.SignedIn() {
			operator = terminal.Session().Username
		}

		c.JSON(httpStatus, gin.H{
			"status":    status,
			"message":   "Server is running",
			"connected": terminal.Connected(),
			"signed_in": terminal.SignedIn(),
			"operator":  operator,
			"ledger":    terminal.Ledger() != nil,
			"timestamp": time.Now(),
		})
	}
}
