package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"

	"KURA-backend/internal/equipment"
	"KURA-backend/internal/loans"
	"KURA-backend/internal/notify"
	"KURA-backend/internal/platform/auth"
	"KURA-backend/internal/platform/db"
	"KURA-backend/internal/structures"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:           "kura",
		Short:         "Equipment loan reservation server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "config/config.yaml", "path to config.yaml")
	root.AddCommand(serveCmd(), migrateCmd(), archiveCmd(), availabilityCmd())

	if err := root.Execute(); err != nil {
		log.Fatalf("[ERROR] %v", err)
	}
}

// 設定読み込みと DB 接続
func setup(ctx context.Context) (*db.Config, *sqlx.DB, error) {
	cfg, err := db.LoadConfig(configPath)
	if err != nil {
		return nil, nil, err
	}
	if cfg.Mode != "dev" && cfg.Mode != "release" {
		return nil, nil, fmt.Errorf("mode must be dev or release, got %q", cfg.Mode)
	}
	log.Printf("[INFO] mode:%s", cfg.Mode)

	conn, err := db.Connect(ctx, cfg.DB)
	if err != nil {
		return nil, nil, err
	}
	log.Printf("[INFO] connected to DB: %s", cfg.DB.DBName)
	return cfg, conn, nil
}

func newLoanService(cfg *db.Config, conn *sqlx.DB, opts ...loans.Option) *loans.Service {
	opts = append(opts, loans.WithRetryOptions(db.WithMaxAttempts(cfg.Loans.MaxAttempts)))
	return loans.NewService(loans.NewStore(conn), opts...)
}

func serveCmd() *cobra.Command {
	var autoMigrate bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTPS API server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, conn, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			defer conn.Close()

			if autoMigrate {
				if err := db.Migrate(cmd.Context(), conn); err != nil {
					return err
				}
			}
			if cfg.JWT.Secret == "" {
				return errors.New("jwt secret is not configured (LOANS_JWT_SECRET)")
			}
			return serve(cfg, conn)
		},
	}
	cmd.Flags().BoolVar(&autoMigrate, "migrate", false, "apply pending migrations before serving")
	return cmd
}

func serve(cfg *db.Config, conn *sqlx.DB) error {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())
	_ = r.SetTrustedProxies(nil)

	if cfg.Mode == "dev" {
		// CORS（開発中のみ必要）
		origins := cfg.AllowOrigin
		if len(origins) == 0 {
			origins = []string{"http://localhost:3000"}
		}
		r.Use(cors.New(cors.Config{
			AllowOrigins:     origins,
			AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
			ExposeHeaders:    []string{"Content-Length", "Location"},
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowCredentials: true,
		}))
	}

	// ヘルス
	r.GET("/healthz", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	tokens := auth.NewIssuer([]byte(cfg.JWT.Secret), cfg.JWT.TokenTTL())
	accounts := auth.NewStore(conn)
	hub := notify.NewHub()

	// /api/v1。ロールと所属はトークンではなくアカウントの現在値を使う
	api := r.Group("/api/v1")
	private := api.Group("", auth.RequireAuth(tokens), auth.RequireActiveAccount(accounts))
	admin := private.Group("", auth.RequireAdmin())

	auth.RegisterRoutes(api, admin, auth.NewService(accounts, tokens))
	structures.RegisterRoutes(private, admin, structures.NewService(structures.NewStore(conn)))
	equipment.RegisterRoutes(private, equipment.NewService(equipment.NewStore(conn)))
	loans.RegisterRoutes(private, newLoanService(cfg, conn, loans.WithNotifier(notify.NewDispatcher(hub))))
	notify.RegisterRoutes(private, hub, originChecker(cfg))

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		var err error
		if cfg.Certificate.Cert == "" {
			log.Printf("[WARN] no certificate configured, listening on http://%s", cfg.Listen)
			err = srv.ListenAndServe()
		} else {
			// TLS設定
			certFile := fmt.Sprintf("config/tls/%s/%s", cfg.Mode, cfg.Certificate.Cert)
			keyFile := fmt.Sprintf("config/tls/%s/%s", cfg.Mode, cfg.Certificate.Key)
			log.Printf("[INFO] listening on https://%s", cfg.Listen)
			err = srv.ListenAndServeTLS(certFile, keyFile)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	select {
	case err, ok := <-errCh:
		if ok {
			return err
		}
		return nil
	case <-quit:
	}
	log.Println("[INFO] shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}

// WebSocket の Origin 検査。dev は全許可
func originChecker(cfg *db.Config) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		if cfg.Mode == "dev" {
			return true
		}
		origin := r.Header.Get("Origin")
		return origin == "" || slices.Contains(cfg.AllowOrigin, origin)
	}
}
