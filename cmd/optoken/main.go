// Command optoken prints an operator JWT for the /v1 routes.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"rfidattend/internal/auth"
	"rfidattend/internal/config"
)

func main() {
	subject := flag.String("sub", "", "operator name recorded in the token subject")
	ttl := flag.Duration("ttl", 0, "token lifetime (default ACCESS_TTL)")
	flag.Parse()

	if *subject == "" {
		fmt.Fprintln(os.Stderr, "usage: optoken -sub <operator> [-ttl 1h]")
		os.Exit(2)
	}
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	lifetime := cfg.AccessTTL
	if *ttl > 0 {
		lifetime = *ttl
	}

	tok, err := auth.Issue(*subject, auth.RoleOperator, cfg.JWTIssuer, cfg.JWTSigningKey, lifetime)
	if err != nil {
		log.Fatalf("issue token: %v", err)
	}
	fmt.Println(tok.Value)
	fmt.Fprintf(os.Stderr, "expires %s\n", tok.ExpiresAt.Format(time.RFC3339))
}
