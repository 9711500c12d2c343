package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/joho/godotenv/autoload"

	"github.com/ircore/ircd/config"
	"github.com/ircore/ircd/server"
)

func main() {
	configPath := flag.String("config", "", "Configuration file (yaml, toml, or json) or URL")
	host := flag.String("host", "", "Override listen host")
	port := flag.Int("port", 0, "Override listen port")
	debug := flag.Bool("debug", false, "Enable debug logging")
	hashPassword := flag.String("hash-password", "", "Print a bcrypt hash for an operator password and exit")
	flag.Parse()

	if *hashPassword != "" {
		hash, err := server.HashOperatorPassword(*hashPassword)
		if err != nil {
			log.Fatalf("Failed to hash password: %v", err)
		}
		log.Println(hash)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *host != "" {
		cfg.Server.Host = *host
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *debug {
		cfg.Debug = true
	}

	log.Printf("Starting %s (%s network)", cfg.Server.Name, cfg.Server.Network)
	log.Printf("IRC bind address: %s", cfg.ListenAddress())
	if cfg.Admin.Enabled {
		log.Printf("Admin bind address: %s", cfg.AdminAddress())
	}
	log.Printf("Debug logging: %v", cfg.Debug)

	srv := server.New(cfg)
	if err := srv.Start(); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	log.Println("Server is running. Press Ctrl+C to stop.")
	<-sigChan
	log.Println("Shutdown signal received, stopping server...")

	srv.Stop()
	log.Println("Server stopped. Goodbye!")
}
