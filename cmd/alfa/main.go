package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/loqalabs/alfa/internal/bus"
	"github.com/loqalabs/alfa/internal/catalog"
	"github.com/loqalabs/alfa/internal/config"
	"github.com/loqalabs/alfa/internal/eventstore"
	"github.com/loqalabs/alfa/internal/protocol"
	"github.com/loqalabs/alfa/internal/settings"
)

var version = "0.1.0-dev"

const usage = "expected one of: play, letters, characters, set-sound, set-photo, history, stats, version"

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	ctx := context.Background()

	var err error
	switch os.Args[1] {
	case "play":
		err = runPlay(ctx, os.Args[2:], logger)
	case "letters":
		err = runLetters(os.Stdout)
	case "characters":
		err = runCharacters(os.Stdout)
	case "set-sound":
		err = runSetSound(ctx, os.Args[2:], logger)
	case "set-photo":
		err = runSetPhoto(ctx, os.Args[2:], logger)
	case "history":
		err = runHistory(ctx, os.Args[2:], logger)
	case "stats":
		err = runStats(ctx, os.Args[2:], logger)
	case "version":
		fmt.Println(version)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n%s\n", os.Args[1], usage)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig(path string) (config.Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return config.Load("")
	}
	return config.Load(path)
}

func runPlay(ctx context.Context, args []string, log *slog.Logger) error {
	fs := flag.NewFlagSet("play", flag.ExitOnError)
	configPath := fs.String("config", "alfa.yaml", "Path to configuration file")
	char := fs.String("char", "", "Character id (empty for the default voice)")
	letter := fs.String("letter", "", "Letter id, a-z")
	wait := fs.Duration("wait", 3*time.Second, "How long to wait for a status reply (0 to skip)")
	fs.Parse(args)

	l, ok := catalog.LetterByID(*letter)
	if !ok {
		return fmt.Errorf("unknown letter %q", *letter)
	}
	if *char != "" {
		if _, ok := catalog.CharacterByID(*char); !ok {
			return fmt.Errorf("unknown character %q", *char)
		}
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	client, err := bus.Connect(ctx, "alfa-cli", cfg.Bus, log)
	if err != nil {
		return err
	}
	defer client.Close()

	req := protocol.PlayRequest{
		SessionID:   uuid.NewString(),
		CharacterID: *char,
		LetterID:    l.ID,
		TraceID:     uuid.NewString(),
	}

	var statuses chan *nats.Msg
	if *wait > 0 {
		statuses = make(chan *nats.Msg, 4)
		sub, err := client.Conn().ChanSubscribe(protocol.SubjectLetterStatus, statuses)
		if err != nil {
			return fmt.Errorf("subscribe status: %w", err)
		}
		defer sub.Unsubscribe()
	}

	if err := client.PublishJSON(protocol.SubjectLetterPlay, req); err != nil {
		return err
	}
	if err := client.Flush(ctx); err != nil {
		return fmt.Errorf("flush: %w", err)
	}
	fmt.Printf("requested %s (session %s)\n", describe(req), req.SessionID)
	if statuses == nil {
		return nil
	}

	timeout := time.After(*wait)
	for {
		select {
		case msg := <-statuses:
			var st protocol.PlaybackStatus
			if err := json.Unmarshal(msg.Data, &st); err != nil || st.SessionID != req.SessionID {
				continue
			}
			printStatus(os.Stdout, st)
			if st.Outcome != "started" && st.Outcome != "replayed" && st.Outcome != "fallback" {
				return nil
			}
		case <-timeout:
			return nil
		}
	}
}

func describe(req protocol.PlayRequest) string {
	if req.CharacterID == "" {
		return req.LetterID
	}
	return req.CharacterID + ":" + req.LetterID
}

func printStatus(w io.Writer, st protocol.PlaybackStatus) {
	line := fmt.Sprintf("%-9s %s", st.Outcome, st.Key)
	if st.Animal != "" {
		line += fmt.Sprintf("  %s %s", st.Emoji, st.Animal)
	}
	if st.Message != "" {
		line += "  " + st.Message
	}
	if st.Error != "" {
		line += "  error: " + st.Error
	}
	fmt.Fprintln(w, line)
}

func runLetters(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tLETTER\tANIMAL\tEMOJI")
	for _, l := range catalog.Letters() {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", l.ID, l.Glyph, l.AnimalName, l.Emoji)
	}
	return tw.Flush()
}

func runCharacters(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tEMOJI")
	for _, c := range catalog.Characters() {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", c.ID, c.Name, c.Emoji)
	}
	return tw.Flush()
}

func openSettings(ctx context.Context, cfg config.Config, log *slog.Logger) (*settings.Store, settings.Paths, error) {
	store, err := settings.Open(ctx, cfg.Settings, log)
	if err != nil {
		return nil, settings.Paths{}, err
	}
	return store, settings.Paths{Root: cfg.Settings.DataDir}, nil
}

func runSetSound(ctx context.Context, args []string, log *slog.Logger) error {
	fs := flag.NewFlagSet("set-sound", flag.ExitOnError)
	configPath := fs.String("config", "alfa.yaml", "Path to configuration file")
	char := fs.String("char", "", "Character id")
	letter := fs.String("letter", "", "Letter id, a-z")
	file := fs.String("file", "", "Recording to import")
	remove := fs.Bool("remove", false, "Forget the recording for this letter")
	fs.Parse(args)

	if _, ok := catalog.CharacterByID(*char); !ok {
		return fmt.Errorf("unknown character %q", *char)
	}
	l, ok := catalog.LetterByID(*letter)
	if !ok {
		return fmt.Errorf("unknown letter %q", *letter)
	}
	if *file == "" && !*remove {
		return errors.New("-file is required unless -remove is set")
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	store, paths, err := openSettings(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer store.Close()

	uri := ""
	if !*remove {
		dst := paths.LetterSoundPathFor(*char, l.ID, *file)
		if err := paths.Import(*char, *file, dst); err != nil {
			return err
		}
		uri = settings.FileURI(dst)
	}
	cs, err := store.SetLetterSound(ctx, *char, l.ID, uri)
	if err != nil {
		return err
	}
	fmt.Printf("%s now has %d recorded letters\n", *char, len(cs.LetterSounds))

	notify(ctx, cfg, log, protocol.CharacterUpdated{CharacterID: *char, LetterID: l.ID, SoundURI: uri, Timestamp: time.Now().UTC()})
	return nil
}

func runSetPhoto(ctx context.Context, args []string, log *slog.Logger) error {
	fs := flag.NewFlagSet("set-photo", flag.ExitOnError)
	configPath := fs.String("config", "alfa.yaml", "Path to configuration file")
	char := fs.String("char", "", "Character id")
	file := fs.String("file", "", "Photo to import")
	clearPhoto := fs.Bool("clear", false, "Remove the character photo")
	fs.Parse(args)

	if _, ok := catalog.CharacterByID(*char); !ok {
		return fmt.Errorf("unknown character %q", *char)
	}
	if *file == "" && !*clearPhoto {
		return errors.New("-file is required unless -clear is set")
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	store, paths, err := openSettings(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer store.Close()

	uri := ""
	if !*clearPhoto {
		dst := paths.PhotoPathAt(*char, time.Now())
		if err := paths.Import(*char, *file, dst); err != nil {
			return err
		}
		uri = settings.FileURI(dst)
	}
	if _, err := store.Save(ctx, *char, settings.Patch{PhotoURI: &uri}); err != nil {
		return err
	}
	if uri == "" {
		fmt.Printf("%s photo cleared\n", *char)
	} else {
		fmt.Printf("%s photo set to %s\n", *char, uri)
	}

	notify(ctx, cfg, log, protocol.CharacterUpdated{CharacterID: *char, PhotoURI: uri, Timestamp: time.Now().UTC()})
	return nil
}

// notify tells a running alfad about a change. The settings are already
// saved, so an unreachable bus is only a warning.
func notify(ctx context.Context, cfg config.Config, log *slog.Logger, upd protocol.CharacterUpdated) {
	cfg.Bus.ConnectTimeout = 500
	client, err := bus.Connect(ctx, "alfa-cli", cfg.Bus, log)
	if err != nil {
		log.Warn("runtime not notified", slog.String("error", err.Error()))
		return
	}
	defer client.Close()
	if err := client.PublishJSON(protocol.SubjectCharacterUpdated, upd); err != nil {
		log.Warn("runtime not notified", slog.String("error", err.Error()))
	}
}

func openEvents(ctx context.Context, configPath string, log *slog.Logger) (*eventstore.Store, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}
	if cfg.EventStore.RetentionMode == "ephemeral" {
		return nil, errors.New("event store is ephemeral; nothing is recorded")
	}
	return eventstore.Open(ctx, cfg.EventStore, log)
}

func runHistory(ctx context.Context, args []string, log *slog.Logger) error {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	configPath := fs.String("config", "alfa.yaml", "Path to configuration file")
	session := fs.String("session", "", "Session id")
	limit := fs.Int("limit", 100, "Maximum events to print")
	fs.Parse(args)
	if *session == "" {
		return errors.New("-session is required")
	}

	es, err := openEvents(ctx, *configPath, log)
	if err != nil {
		return err
	}
	defer es.Close()

	events, err := es.ListSessionEvents(ctx, *session, *limit)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tTYPE\tKEY\tSOURCE")
	for _, e := range events {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", e.CreatedAt.Local().Format(time.TimeOnly), e.Type, e.Key, e.Source)
	}
	return tw.Flush()
}

func runStats(ctx context.Context, args []string, log *slog.Logger) error {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	configPath := fs.String("config", "alfa.yaml", "Path to configuration file")
	fs.Parse(args)

	es, err := openEvents(ctx, *configPath, log)
	if err != nil {
		return err
	}
	defer es.Close()

	counts, err := es.LetterCounts(ctx)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CHARACTER\tLETTER\tPLAYS")
	for _, c := range counts {
		char := c.CharacterID
		if char == "" {
			char = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\n", char, c.Letter, c.Plays)
	}
	return tw.Flush()
}
