package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/docopt/docopt-go"
	"golang.org/x/term"

	"github.com/openoutline/collab/collab"
	"github.com/openoutline/collab/relay"
)

const CollabCtlVersion = "0.0.1"

var Out *log.Logger
var Err *log.Logger

func init() {
	Out = log.New(os.Stdout, "", 0)
	Err = log.New(os.Stderr, "", log.Ldate|log.Ltime|log.Lshortfile)
}

func main() {
	usage := `Collab control.

Usage:
    collabctl relay [--port=<port>]
    collabctl tail --url=<url> --page=<page_id> [--jwt=<jwt>]
        [--cache_dir=<cache_dir>]
    collabctl new-page

Options:
    -h --help                Show this screen.
    --version                Show version.
    --port=<port>            Relay listen port [default: 8080].
    --url=<url>              Relay base url, e.g. ws://localhost:8080.
    --page=<page_id>         Page id to follow.
    --jwt=<jwt>              Session JWT. Prompted when omitted.
    --cache_dir=<cache_dir>  Local cache directory [default: .collabcache].`

	opts, err := docopt.ParseArgs(usage, os.Args[1:], CollabCtlVersion)
	if err != nil {
		panic(err)
	}

	if runRelay, _ := opts.Bool("relay"); runRelay {
		relayMain(opts)
	} else if tail, _ := opts.Bool("tail"); tail {
		tailMain(opts)
	} else if newPage, _ := opts.Bool("new-page"); newPage {
		Out.Printf("%s\n", collab.NewId())
	}
}

func relayMain(opts docopt.Opts) {
	port, _ := opts.Int("--port")

	cancelCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r := relay.NewRelayWithDefaults(cancelCtx)
	defer r.Close()

	Out.Printf("relay listening on :%d\n", port)
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: r,
	}
	go func() {
		sigs := make(chan os.Signal, 1)
		signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
		<-sigs
		server.Close()
	}()
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		Err.Printf("relay error = %s\n", err)
	}
}

func tailMain(opts docopt.Opts) {
	url, _ := opts.String("--url")
	pageIdStr, _ := opts.String("--page")
	jwt, _ := opts.String("--jwt")
	cacheDir, _ := opts.String("--cache_dir")

	pageId, err := collab.ParseId(pageIdStr)
	if err != nil {
		Err.Fatalf("bad page id = %s\n", err)
	}

	if jwt == "" {
		fmt.Print("jwt: ")
		jwtBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
		if err != nil {
			Err.Fatalf("read jwt = %s\n", err)
		}
		fmt.Println()
		jwt = string(jwtBytes)
	}

	cache, err := collab.NewFileCache(cacheDir)
	if err != nil {
		Err.Fatalf("cache = %s\n", err)
	}

	cancelCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	session, err := collab.NewPageSessionWithDefaults(
		cancelCtx,
		collab.NewId(),
		pageId,
		cache,
		fmt.Sprintf("%s/page/%s", url, pageId),
		&collab.ClientAuth{
			ByJwt:      jwt,
			InstanceId: collab.NewId(),
			AppVersion: CollabCtlVersion,
		},
	)
	if err != nil {
		Err.Fatalf("session = %s\n", err)
	}
	defer session.Close()

	unsubscribe := session.Doc().Subscribe(func(event *collab.ChangeEvent) {
		printOutline(session.Doc())
	})
	defer unsubscribe()

	printOutline(session.Doc())

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	for {
		select {
		case <-sigs:
			return
		case <-time.After(10 * time.Second):
			connected := session.Connected()
			Out.Printf("-- connected=%t users=%d\n", connected, len(session.Presence().States()))
		}
	}
}

func printOutline(doc *collab.Doc) {
	Out.Printf("== %s\n", doc.Title())
	var walk func(itemId collab.Id, depth int)
	walk = func(itemId collab.Id, depth int) {
		for _, childId := range doc.ChildItemIds(itemId) {
			text, err := doc.ItemText(childId)
			if err != nil {
				continue
			}
			Out.Printf("%*s- %s\n", 2*depth, "", text)
			walk(childId, depth+1)
		}
	}
	walk(collab.RootItemId, 0)
}
