// Command sessionctl drives the client-side verification lifecycle against a
// running relay, keeping the ChatSession in a SQLite file so it survives
// between invocations.
//
//	sessionctl -db session.db -url http://localhost:8080/api/v1/chat/verify verify <token>
//	sessionctl -db session.db refresh <token>
//	sessionctl -db session.db show
//	sessionctl -db session.db clear
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/tbourn/livechat-bridge/internal/chatsession"
	"github.com/tbourn/livechat-bridge/internal/repo"
	"github.com/tbourn/livechat-bridge/internal/sysutil"
)

func main() {
	dbPath := flag.String("db", "session.db", "SQLite file holding the session slot")
	verifyURL := flag.String("url", "http://localhost:8080/api/v1/chat/verify", "Relay verification endpoint")
	sessionID := flag.String("session", "", "Session identifier sent to the relay (random if empty)")
	timeout := flag.Duration("timeout", 10*time.Second, "Verification request timeout")
	verbose := flag.Bool("v", false, "Log state transitions to stderr")
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
		os.Exit(1)
	}

	lg := zerolog.Nop()
	if *verbose {
		lg = sysutil.InitLogger(os.Stderr, true, "sessionctl")
		sysutil.SetLogLevel("debug")
	}

	db, err := repo.OpenSQLite(*dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open %s: %v\n", *dbPath, err)
		os.Exit(1)
	}
	if err := repo.AutoMigrate(db); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to migrate %s: %v\n", *dbPath, err)
		os.Exit(1)
	}

	store := chatsession.NewStore(repo.SQLiteSlot{DB: db, Key: chatsession.DefaultSlotKey}, chatsession.StoreOptions{})
	ctx := context.Background()

	v := chatsession.NewHTTPVerifier(*verifyURL, *timeout)
	if err := run(ctx, os.Stdout, store, v, *sessionID, lg, flag.Args()); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "Usage: sessionctl [-db file] [-url endpoint] [-session id] <verify|refresh|show|clear> [token]")
	flag.PrintDefaults()
}

// oneShot never fires: each invocation performs at most one explicit refresh.
type oneShot struct{}

func (oneShot) Stop() bool { return true }

// run executes one subcommand and writes the resulting session to out.
func run(ctx context.Context, out io.Writer, store *chatsession.Store, v chatsession.Verifier, sessionID string, lg zerolog.Logger, args []string) error {
	cmd, rest := args[0], args[1:]

	var tokens chatsession.TokenSource
	if len(rest) > 0 {
		tok := rest[0]
		tokens = chatsession.TokenSourceFunc(func(context.Context) (string, error) { return tok, nil })
	}

	m := chatsession.NewManager(store, v, tokens, chatsession.Options{
		SessionID: sessionID,
		Logger:    &lg,
		AfterFunc: func(time.Duration, func()) chatsession.Timer { return oneShot{} },
	})
	defer m.Close()

	switch cmd {
	case "verify":
		if len(rest) == 0 {
			return fmt.Errorf("verify: token required")
		}
		s, err := m.Verify(ctx, rest[0])
		if err != nil {
			return fmt.Errorf("verify: %w", err)
		}
		return printJSON(out, s)

	case "refresh":
		if tokens == nil {
			return fmt.Errorf("refresh: token required")
		}
		if st := m.Start(ctx); st != chatsession.StateVerified {
			return fmt.Errorf("refresh: no valid session (state %s)", st)
		}
		if err := m.Refresh(ctx); err != nil {
			return fmt.Errorf("refresh: %w", err)
		}
		s, _ := m.Session(ctx)
		return printJSON(out, s)

	case "show":
		s, ok := m.Session(ctx)
		if !ok {
			return fmt.Errorf("no valid session")
		}
		return printJSON(out, s)

	case "clear":
		return m.Clear(ctx)

	default:
		usage()
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
