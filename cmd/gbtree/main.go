package main

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/chzyer/readline"

	"github.com/Giulio2002/gbtree"
)

var completer = readline.NewPrefixCompleter(
	readline.PcItem(".help"),
	readline.PcItem(".exit"),
	readline.PcItem("put"),
	readline.PcItem("dup"),
	readline.PcItem("get"),
	readline.PcItem("del"),
	readline.PcItem("first"),
	readline.PcItem("last"),
	readline.PcItem("next"),
	readline.PcItem("prev"),
	readline.PcItem("nextdup"),
	readline.PcItem("skip"),
	readline.PcItem("cur"),
	readline.PcItem("count"),
	readline.PcItem("set"),
	readline.PcItem("clone"),
	readline.PcItem("use"),
	readline.PcItem("flush"),
	readline.PcItem("stat"),
)

const helpText = `
gbtree - B-tree with cursors and duplicate keys

Database:
  put KEY VALUE     Insert or overwrite KEY
  dup KEY VALUE     Append VALUE as a duplicate of KEY
  get KEY           Print the first record of KEY
  del KEY           Erase KEY with all duplicates
  flush             Write dirty pages back
  stat              Print cache and tree counters

Cursors (the prompt shows the active cursor):
  first | last      Move to the first or last entry
  next | prev       Move one entry, stepping through duplicates
  nextdup           Move to the next duplicate of the current key
  skip              Move to the next key, skipping duplicates
  cur               Print the current entry and cursor state
  count             Print the duplicate count of the current key
  set VALUE         Overwrite the current record
  clone             Clone the active cursor and switch to the clone
  use N             Switch to cursor N

  .help             Show this help
  .exit             Exit
`

type shell struct {
	db      *gbtree.DB
	cursors []*gbtree.Cursor
	active  int
}

func main() {
	var (
		dbPath   = flag.String("db", "", "database path (required for -backend bolt)")
		backend  = flag.String("backend", "memory", "page store: memory or bolt")
		blobs    = flag.String("blobs", "", "blob store: memory or file (bolt implies file)")
		cache    = flag.Int("cache", gbtree.DefaultCacheSize, "page cache size in pages")
		logLevel = flag.String("log-level", "warn", "log level: debug, info, warn, error")
		logJSON  = flag.Bool("log-json", false, "log as JSON")
	)
	flag.Parse()

	opts := gbtree.DefaultOptions()
	opts.Path = *dbPath
	opts.CacheSize = *cache
	opts.Logger = newLogger(*logLevel, *logJSON)

	switch *backend {
	case "memory":
	case "bolt":
		opts.Backend = gbtree.BackendBolt
		opts.BlobBackend = gbtree.BlobFile
	default:
		fmt.Fprintf(os.Stderr, "Error: unknown backend %q\n", *backend)
		os.Exit(1)
	}
	switch *blobs {
	case "":
	case "memory":
		opts.BlobBackend = gbtree.BlobMemory
	case "file":
		opts.BlobBackend = gbtree.BlobFile
	default:
		fmt.Fprintf(os.Stderr, "Error: unknown blob store %q\n", *blobs)
		os.Exit(1)
	}

	db, err := gbtree.Open(opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening database: %s\n", err)
		os.Exit(1)
	}
	defer db.Close()

	c, err := db.OpenCursor()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening cursor: %s\n", err)
		os.Exit(1)
	}
	sh := &shell{db: db, cursors: []*gbtree.Cursor{c}}
	defer sh.close()

	sh.run(*dbPath)
}

func newLogger(level string, json bool) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelWarn
	}
	hopts := &slog.HandlerOptions{Level: lvl}
	if json {
		return slog.New(slog.NewJSONHandler(os.Stderr, hopts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, hopts))
}

func (sh *shell) close() {
	for _, c := range sh.cursors {
		c.Close()
	}
}

func (sh *shell) cursor() *gbtree.Cursor {
	return sh.cursors[sh.active]
}

func (sh *shell) run(dbPath string) {
	fmt.Println(gbtree.Version())
	fmt.Println("Enter .help for usage hints.")

	historyFile := filepath.Join(os.TempDir(), ".gbtree_history")
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "gbtree> ",
		HistoryFile:     historyFile,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		AutoComplete:    completer,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing readline: %s\n", err)
		os.Exit(1)
	}
	defer rl.Close()

	for {
		if dbPath != "" {
			rl.SetPrompt(fmt.Sprintf("gbtree:%s[%d]> ", dbPath, sh.active))
		} else {
			rl.SetPrompt(fmt.Sprintf("gbtree[%d]> ", sh.active))
		}

		line, readErr := rl.Readline()
		if readErr != nil {
			if readErr == readline.ErrInterrupt {
				if len(line) == 0 {
					return
				}
				continue
			} else if readErr == io.EOF {
				fmt.Println("Goodbye!")
				return
			}
			fmt.Fprintf(os.Stderr, "Error reading input: %s\n", readErr)
			continue
		}
		if line == "" {
			continue
		}

		parts := strings.Fields(line)
		if strings.ToLower(parts[0]) == ".exit" {
			fmt.Println("Goodbye!")
			return
		}
		if err := sh.exec(parts); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		}
	}
}

func (sh *shell) exec(parts []string) error {
	cmd := strings.ToLower(parts[0])
	args := parts[1:]
	need := func(n int) error {
		if len(args) != n {
			return fmt.Errorf("%s takes %d argument(s)", cmd, n)
		}
		return nil
	}

	switch cmd {
	case ".help":
		fmt.Print(helpText)

	case "put", "dup":
		if err := need(2); err != nil {
			return err
		}
		flags := gbtree.Overwrite
		if cmd == "dup" {
			flags = gbtree.Duplicate | gbtree.DupInsertLast
		}
		if err := sh.db.Insert([]byte(args[0]), []byte(args[1]), flags); err != nil {
			return err
		}
		fmt.Println("OK")

	case "get":
		if err := need(1); err != nil {
			return err
		}
		val, err := sh.db.Find([]byte(args[0]))
		if gbtree.IsNotFound(err) {
			fmt.Println("<not found>")
			return nil
		}
		if err != nil {
			return err
		}
		fmt.Printf("%s\n", val)

	case "del":
		if err := need(1); err != nil {
			return err
		}
		if err := sh.db.Erase([]byte(args[0])); err != nil {
			return err
		}
		fmt.Println("OK")

	case "first":
		return sh.move(gbtree.MoveFirst, 0)
	case "last":
		return sh.move(gbtree.MoveLast, 0)
	case "next":
		return sh.move(gbtree.MoveNext, 0)
	case "prev":
		return sh.move(gbtree.MovePrevious, 0)
	case "nextdup":
		return sh.move(gbtree.MoveNext, gbtree.OnlyDuplicates)
	case "skip":
		return sh.move(gbtree.MoveNext, gbtree.SkipDuplicates)

	case "cur":
		c := sh.cursor()
		if c.IsNil() {
			fmt.Printf("cursor %d: nil\n", sh.active)
			return nil
		}
		key, val, err := c.ReadCurrent(true, true)
		if err != nil {
			return err
		}
		fmt.Printf("cursor %d (%s, dup %d): %s = %s\n", sh.active, c.State(), c.DuplicateIndex(), key, val)

	case "count":
		n, err := sh.cursor().DuplicateCount()
		if err != nil {
			return err
		}
		fmt.Println(n)

	case "set":
		if err := need(1); err != nil {
			return err
		}
		if err := sh.cursor().Overwrite([]byte(args[0])); err != nil {
			return err
		}
		fmt.Println("OK")

	case "clone":
		c, err := sh.cursor().Clone()
		if err != nil {
			return err
		}
		sh.cursors = append(sh.cursors, c)
		sh.active = len(sh.cursors) - 1
		fmt.Printf("cursor %d\n", sh.active)

	case "use":
		if err := need(1); err != nil {
			return err
		}
		n, err := strconv.Atoi(args[0])
		if err != nil || n < 0 || n >= len(sh.cursors) {
			return fmt.Errorf("no cursor %q, have %d", args[0], len(sh.cursors))
		}
		sh.active = n

	case "flush":
		if err := sh.db.Flush(); err != nil {
			return err
		}
		fmt.Println("OK")

	case "stat":
		st := sh.db.Stat()
		fmt.Printf("root=%d cached=%d/%d loads=%d writes=%d evictions=%d splits=%d cursors=%d\n",
			st.Root, st.CachedPages, st.CacheSize, st.PageLoads, st.PageWrites,
			st.Evictions, st.Splits, st.OpenCursors)

	default:
		return fmt.Errorf("unknown command %q, try .help", parts[0])
	}
	return nil
}

func (sh *shell) move(dir gbtree.Direction, opts gbtree.MoveOptions) error {
	key, val, err := sh.cursor().MoveTo(dir, opts)
	if gbtree.IsNotFound(err) {
		fmt.Println("<end>")
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Printf("%s = %s\n", key, val)
	return nil
}
