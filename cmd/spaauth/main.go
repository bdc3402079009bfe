package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/aussiebroadwan/spaauth/internal/cli"
	"github.com/aussiebroadwan/spaauth/pkg/slogx"
	"github.com/aussiebroadwan/spaauth/pkg/spaauth"
)

func main() {
	scopeFlag := flag.String("scopes", "", "space-delimited scopes to request (default: configured scope)")
	logoutFlag := flag.Bool("logout", false, "clear cached tokens and print the end-session URL")
	flag.Parse()

	if err := run(*scopeFlag, *logoutFlag); err != nil {
		log.Fatalf("spaauth: %v", err)
	}
}

func run(scopeStr string, logout bool) error {
	cfg, err := cli.Load()
	if err != nil {
		return err
	}

	slogx.New(slogx.Config{
		Service: "spaauth",
		Level:   cfg.LogLevel,
		Format:  cfg.LogFormat,
		Output:  os.Stderr,
	})

	persist, err := spaauth.OpenBoltStore(cfg.StatePath)
	if err != nil {
		return err
	}
	defer persist.Close()

	svc, err := spaauth.New(spaauth.Config{
		Authority: cfg.Authority(),
		Channel:   &cli.LoopbackChannel{Out: os.Stderr},
		Persist:   persist,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if logout {
		endSessionURL, err := svc.Logout(ctx)
		if err != nil {
			return err
		}
		fmt.Println(endSessionURL)
		return nil
	}

	tokens, err := svc.GetAccessTokens(ctx, spaauth.GetTokenOptions{
		Scopes: strings.Fields(scopeStr),
	})
	if err != nil {
		return err
	}
	if len(tokens) == 0 {
		return fmt.Errorf("no tokens could be acquired")
	}

	for resource, tok := range tokens {
		expiry := "no expiry"
		if tok.Expiry != nil {
			expiry = tok.Expiry.Format(time.RFC3339)
		}
		fmt.Printf("%s\t%s\t%s\n", resource, expiry, tok.Raw)
	}
	return nil
}
