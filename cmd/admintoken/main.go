// Command admintoken issues an operator JWT for the admin API.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sahuti/autoreply/internal/config"
	"github.com/sahuti/autoreply/internal/middleware"
)

func main() {
	subject := flag.String("subject", "", "operator identity recorded in the token")
	scopes := flag.String("scopes", middleware.ScopeAdminRead+","+middleware.ScopeAdminWrite, "comma-separated scopes")
	ttl := flag.Duration("ttl", 24*time.Hour, "token lifetime")
	flag.Parse()

	if *subject == "" {
		fmt.Fprintln(os.Stderr, "-subject is required")
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	token, err := middleware.IssueToken(cfg.JWTSecret, *subject, strings.Split(*scopes, ","), *ttl)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to issue token: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(token)
}
