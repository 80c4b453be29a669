// Command token mints a bearer token with the configured signing key.
//
//	go run ./cmd/token -sub ops -role admin
//	go run ./cmd/token -sub <student id> -role student -ttl 720h
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"academy/internal/auth"
	"academy/internal/config"
)

func main() {
	sub := flag.String("sub", "", "subject: an operator name for admins, the student id for students")
	role := flag.String("role", auth.RoleAdmin, "admin or student")
	ttl := flag.Duration("ttl", 0, "access token lifetime (default JWT_ACCESS_TTL)")
	asJSON := flag.Bool("json", false, "print the whole token pair as JSON")
	flag.Parse()

	if *sub == "" {
		fmt.Fprintln(os.Stderr, "-sub is required")
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	signer := auth.Signer{
		Key:        cfg.JWT.SigningKey,
		Issuer:     cfg.JWT.Issuer,
		AccessTTL:  cfg.JWT.AccessTTL,
		RefreshTTL: cfg.JWT.RefreshTTL,
	}
	if *ttl > 0 {
		signer.AccessTTL = *ttl
	}

	pair, err := signer.Issue(*sub, *role)
	if err != nil {
		fmt.Fprintf(os.Stderr, "issue: %v\n", err)
		os.Exit(1)
	}
	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(pair)
		return
	}
	fmt.Println(pair.AccessToken)
	fmt.Fprintf(os.Stderr, "expires %s\n", pair.AccessExp.Format(time.RFC3339))
}
