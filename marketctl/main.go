package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/docopt/docopt-go"
	"golang.org/x/term"

	"github.com/bazario/livesync/livesync"
)

const MarketCtlVersion = "0.0.1"

var Out *log.Logger
var Err *log.Logger

func init() {
	Out = log.New(os.Stdout, "", 0)
	Err = log.New(os.Stderr, "", log.Ldate|log.Ltime|log.Lshortfile)
}

func main() {
	usage := `Marketplace live-sync control.

The default urls are:
    api_url: https://api.bazario.live
    channel_url: wss://push.bazario.live/channel

Usage:
    marketctl login [--api_url=<api_url>]
        --email=<email>
        [--password=<password>]
    marketctl ads [--api_url=<api_url>] --profile=<profile_id>
        [--jwt=<jwt>]
        [--search=<query>]
    marketctl watch [--api_url=<api_url>] [--channel_url=<channel_url>]
        --profile=<profile_id>
        [--jwt=<jwt>]

Options:
    -h --help                    Show this screen.
    --version                    Show version.
    --api_url=<api_url>
    --channel_url=<channel_url>
    --email=<email>
    --password=<password>        Prompted for when omitted.
    --profile=<profile_id>       Profile id to browse or watch.
    --jwt=<jwt>                  Your bearer JWT.
    --search=<query>             Filter the ad list.`

	opts, err := docopt.ParseArgs(usage, os.Args[1:], MarketCtlVersion)
	if err != nil {
		panic(err)
	}

	if login_, _ := opts.Bool("login"); login_ {
		login(opts)
	} else if ads_, _ := opts.Bool("ads"); ads_ {
		ads(opts)
	} else if watch_, _ := opts.Bool("watch"); watch_ {
		watch(opts)
	}
}

func apiUrl(opts docopt.Opts) string {
	if apiUrl, err := opts.String("--api_url"); err == nil && apiUrl != "" {
		return apiUrl
	}
	return "https://api.bazario.live"
}

func channelUrl(opts docopt.Opts) string {
	if channelUrl, err := opts.String("--channel_url"); err == nil && channelUrl != "" {
		return channelUrl
	}
	return "wss://push.bazario.live/channel"
}

func profileId(opts docopt.Opts) int64 {
	profileStr, err := opts.String("--profile")
	if err != nil {
		Err.Fatalf("--profile is required")
	}
	profileId, err := strconv.ParseInt(profileStr, 10, 64)
	if err != nil {
		Err.Fatalf("bad --profile: %s", err)
	}
	return profileId
}

func session(opts docopt.Opts) *livesync.SessionState {
	sessionState := livesync.NewSessionState()
	if jwt, err := opts.String("--jwt"); err == nil && jwt != "" {
		sessionState.SetSession(jwt, nil)
	}
	return sessionState
}

func login(opts docopt.Opts) {
	email, err := opts.String("--email")
	if err != nil {
		Err.Fatalf("--email is required")
	}
	password, _ := opts.String("--password")
	if password == "" {
		fmt.Fprint(os.Stderr, "password: ")
		passwordBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			Err.Fatalf("read password: %s", err)
		}
		password = string(passwordBytes)
	}

	api := livesync.NewMarketApi(apiUrl(opts))
	defer api.Close()

	result, err := api.AuthLoginSync(&livesync.AuthLoginArgs{
		Email:    email,
		Password: password,
	})
	if err != nil {
		Err.Fatalf("login: %s", err)
	}
	if result.Error != nil {
		Err.Fatalf("login: %s", result.Error.Message)
	}
	Out.Printf("%s", result.Token)
}

func ads(opts docopt.Opts) {
	api := livesync.NewMarketApi(apiUrl(opts))
	defer api.Close()

	sessionState := session(opts)
	detach := api.Attach(sessionState)
	defer detach()

	result, err := api.GetAdsSync(profileId(opts))
	if err != nil {
		Err.Fatalf("ads: %s", err)
	}

	listed := result.Ads
	if query, err := opts.String("--search"); err == nil && query != "" {
		listed = livesync.FilterAds(listed, query)
	}
	for _, ad := range listed {
		Out.Printf(
			"%8d  %-32s %4d %-12s %12s  views=%d",
			ad.Id,
			ad.Title,
			ad.Year,
			ad.Color,
			livesync.FormatPrice(ad.Price),
			ad.ViewCount,
		)
	}
}

func watch(opts docopt.Opts) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	api := livesync.NewMarketApiWithContext(ctx, apiUrl(opts))
	defer api.Close()

	sessionState := session(opts)
	detachApi := api.Attach(sessionState)
	defer detachApi()

	manager := livesync.NewChannelManagerWithDefaults(ctx, channelUrl(opts))
	defer manager.Close()
	detachChannel := manager.Attach(sessionState)
	defer detachChannel()

	adSync := livesync.NewSynchronizer(livesync.AdSyncAdapter())
	bioSync := livesync.NewSynchronizer(livesync.BiographySyncAdapter())
	feed := livesync.NewMessageFeed()
	stopFeed := feed.Start(ctx)
	defer stopFeed()

	disposeAds := livesync.BindAdEvents(manager, adSync)
	defer disposeAds()
	disposeBios := livesync.BindBiographyEvents(manager, bioSync)
	defer disposeBios()
	disposeBroadcast := livesync.BindBroadcastEvents(manager, feed)
	defer disposeBroadcast()

	disposeChanges := adSync.AddChangeCallback(func(event livesync.ChangeEvent) {
		Out.Printf("ad %s id=%d origin=%s", event.Kind, event.Id, event.Origin)
	})
	defer disposeChanges()
	disposeFeedChanges := feed.AddChangeCallback(func() {
		messages := feed.Messages()
		if 0 < len(messages) {
			latest := messages[0]
			Out.Printf("broadcast %s: %s", latest.SenderName, strings.TrimSpace(latest.Text))
		}
	})
	defer disposeFeedChanges()

	if err := manager.Connect(ctx); err != nil {
		Err.Fatalf("connect: %s", err)
	}

	pid := profileId(opts)
	topic := fmt.Sprintf("profile:%d", pid)
	if err := manager.Subscribe(ctx, topic); err != nil {
		Err.Fatalf("subscribe %s: %s", topic, err)
	}
	defer manager.Unsubscribe(context.Background(), topic)

	// baseline snapshot after the subscription is live. events that raced
	// the fetch are buffered by the synchronizer and replayed on load.
	adResult, err := api.GetAdsSync(pid)
	if err != nil {
		Err.Fatalf("ads: %s", err)
	}
	adSync.LoadSnapshot(adResult.Ads)

	bioResult, err := api.GetBiographiesSync(pid)
	if err != nil {
		Err.Fatalf("biographies: %s", err)
	}
	bioSync.LoadSnapshot(bioResult.Entries)

	Out.Printf("watching %s (%d ads, %d biographies)", topic, adSync.Len(), bioSync.Len())

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
}
