package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fatih/color"
	"github.com/kilupskalvis/refbridge/internal/config"
	"github.com/kilupskalvis/refbridge/internal/models"
	"github.com/kilupskalvis/refbridge/internal/refpath"
	"github.com/kilupskalvis/refbridge/internal/store"
	"github.com/spf13/cobra"
)

var (
	seedDataDir string
	seedRepo    string
	seedDB      string

	seedUser        string
	seedMessage     string
	seedDate        int64
	seedTZOffset    int
	seedTagType     string
	seedSpecialRefs []string
	seedKeepAround  bool
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Write repository data directly into a repository database",
	Long: `Write changesets, branches, tags and typed refs straight into the bbolt
database of one repository. This stands in for the repository engine that
normally produces this data. The server must not have the database open.

The database is <data-dir>/repos/<repo>/repo.db, or the path given by --db.

Examples:
  refbridge seed --repo demo changeset 1f0e... --message "Initial import"
  refbridge seed --repo demo changeset 2a9c... 1f0e... --special-ref pipelines/1
  refbridge seed --repo demo branch main 2a9c...
  refbridge seed --repo demo tag v1.0 1f0e... --type global
  refbridge seed --repo demo default-branch main`,
}

var seedChangesetCmd = &cobra.Command{
	Use:   "changeset <id> [parent...]",
	Short: "Store a changeset",
	Args:  cobra.MinimumNArgs(1),
	Run: seedRun(func(ctx context.Context, st *store.Store, args []string) (string, error) {
		cs := &models.Changeset{
			ID:          args[0],
			Parents:     args[1:],
			User:        seedUser,
			Timestamp:   seedDate,
			TZOffset:    seedTZOffset,
			Description: seedMessage,
			SpecialRefs: seedSpecialRefs,
			KeepAround:  seedKeepAround,
		}
		if cs.Timestamp == 0 {
			cs.Timestamp = time.Now().Unix()
		}
		if err := seedChangeset(ctx, st, cs); err != nil {
			return "", err
		}
		return fmt.Sprintf("Stored changeset %s", shortID(cs.ID)), nil
	}),
}

var seedBranchCmd = &cobra.Command{
	Use:   "branch <name> <changeset>",
	Short: "Point a branch at a changeset",
	Args:  cobra.ExactArgs(2),
	Run: seedRun(func(ctx context.Context, st *store.Store, args []string) (string, error) {
		if err := requireChangeset(ctx, st, args[1]); err != nil {
			return "", err
		}
		if err := st.SetBranch(ctx, args[0], args[1]); err != nil {
			return "", err
		}
		return fmt.Sprintf("Branch '%s' at %s", args[0], shortID(args[1])), nil
	}),
}

var seedTagCmd = &cobra.Command{
	Use:   "tag <name> <changeset>",
	Short: "Create a tag on a changeset",
	Args:  cobra.ExactArgs(2),
	Run: seedRun(func(ctx context.Context, st *store.Store, args []string) (string, error) {
		typ, ok := models.ParseTagType(seedTagType)
		if !ok {
			return "", fmt.Errorf("unknown tag type %q", seedTagType)
		}
		if err := requireChangeset(ctx, st, args[1]); err != nil {
			return "", err
		}
		if err := st.SetTag(ctx, models.Tag{Name: args[0], ChangesetID: args[1], Type: typ}); err != nil {
			return "", err
		}
		return fmt.Sprintf("Tag '%s' (%s) at %s", args[0], typ, shortID(args[1])), nil
	}),
}

var seedDefaultBranchCmd = &cobra.Command{
	Use:   "default-branch <name>",
	Short: "Set the default branch",
	Args:  cobra.ExactArgs(1),
	Run: seedRun(func(ctx context.Context, st *store.Store, args []string) (string, error) {
		if err := st.SetDefaultBranch(ctx, args[0]); err != nil {
			return "", err
		}
		return fmt.Sprintf("Default branch is '%s'", args[0]), nil
	}),
}

var seedSpecialRefCmd = &cobra.Command{
	Use:   "special-ref <key> <changeset>",
	Short: "Point a special ref at a changeset",
	Long: `Point a special ref at a changeset. The key is the ref path without
"refs/", e.g. merge-requests/12/head or pipelines/345.`,
	Args: cobra.ExactArgs(2),
	Run: seedRun(func(ctx context.Context, st *store.Store, args []string) (string, error) {
		if _, ok := refpath.ParseSpecial(refpath.SpecialRef(args[0])); !ok {
			return "", fmt.Errorf("%q is not a special ref", args[0])
		}
		if err := st.AddSpecialRef(ctx, args[0], args[1]); err != nil {
			return "", err
		}
		return fmt.Sprintf("Special ref %s at %s", refpath.SpecialRef(args[0]), shortID(args[1])), nil
	}),
}

var seedKeepAroundCmd = &cobra.Command{
	Use:   "keep-around <changeset>",
	Short: "Pin a changeset with a keep-around ref",
	Args:  cobra.ExactArgs(1),
	Run: seedRun(func(ctx context.Context, st *store.Store, args []string) (string, error) {
		if err := st.AddKeepAround(ctx, args[0]); err != nil {
			return "", err
		}
		return fmt.Sprintf("Keep-around %s", refpath.KeepAroundRef(args[0])), nil
	}),
}

func init() {
	pf := seedCmd.PersistentFlags()
	pf.StringVar(&seedDataDir, "data-dir", envOrDefault("REFBRIDGE_DATA_DIR", config.Default().DataDir), "Server data directory")
	pf.StringVar(&seedRepo, "repo", os.Getenv("REFBRIDGE_REPO"), "Repository name")
	pf.StringVar(&seedDB, "db", "", "Repository database path (overrides --data-dir and --repo)")

	cf := seedChangesetCmd.Flags()
	cf.StringVar(&seedUser, "user", "refbridge <refbridge@localhost>", "Author as \"Name <email>\"")
	cf.StringVarP(&seedMessage, "message", "m", "", "Description")
	cf.Int64Var(&seedDate, "date", 0, "Unix timestamp (default: now)")
	cf.IntVar(&seedTZOffset, "tz-offset", 0, "Time zone offset in seconds east of UTC")
	cf.StringArrayVar(&seedSpecialRefs, "special-ref", nil, "Special ref key held by the changeset, repeat for multiple")
	cf.BoolVar(&seedKeepAround, "keep-around", false, "Pin the changeset with a keep-around ref")

	seedTagCmd.Flags().StringVar(&seedTagType, "type", string(models.TagGlobal), "Tag type (global|local|builtin)")

	seedCmd.AddCommand(seedChangesetCmd, seedBranchCmd, seedTagCmd,
		seedDefaultBranchCmd, seedSpecialRefCmd, seedKeepAroundCmd)
}

// seedDBPath resolves the database the seed commands write to.
func seedDBPath() (string, error) {
	if seedDB != "" {
		return seedDB, nil
	}
	if seedRepo == "" {
		return "", fmt.Errorf("--repo or --db is required")
	}
	return filepath.Join(seedDataDir, config.ReposDir, seedRepo, "repo.db"), nil
}

// seedRun opens the repository database, runs fn and prints its summary.
func seedRun(fn func(ctx context.Context, st *store.Store, args []string) (string, error)) func(*cobra.Command, []string) {
	return func(_ *cobra.Command, args []string) {
		path, err := seedDBPath()
		if err != nil {
			exitError("%v", err)
		}

		st, err := store.New(path)
		if err != nil {
			exitError("failed to open store: %v", err)
		}
		defer st.Close()
		if err := st.Initialize(); err != nil {
			exitError("failed to initialize store: %v", err)
		}

		msg, err := fn(context.Background(), st, args)
		if err != nil {
			st.Close()
			exitError("%v", err)
		}
		color.New(color.FgGreen).Println(msg)
	}
}

// seedChangeset validates and stores cs. Parents must already exist.
func seedChangeset(ctx context.Context, st *store.Store, cs *models.Changeset) error {
	if !refpath.IsChangesetID(cs.ID) {
		return fmt.Errorf("invalid changeset id %q: want 40 lowercase hex characters", cs.ID)
	}
	for _, p := range cs.Parents {
		if err := requireChangeset(ctx, st, p); err != nil {
			return fmt.Errorf("parent: %w", err)
		}
	}
	for _, key := range cs.SpecialRefs {
		if _, ok := refpath.ParseSpecial(refpath.SpecialRef(key)); !ok {
			return fmt.Errorf("%q is not a special ref", key)
		}
	}

	// Typed refs go through the store so that materialized buckets and
	// previous holders stay consistent.
	bare := *cs
	bare.SpecialRefs, bare.KeepAround = nil, false
	if err := st.PutChangeset(ctx, &bare); err != nil {
		return err
	}
	for _, key := range cs.SpecialRefs {
		if err := st.AddSpecialRef(ctx, key, cs.ID); err != nil {
			return err
		}
	}
	if cs.KeepAround {
		return st.AddKeepAround(ctx, cs.ID)
	}
	return nil
}

func requireChangeset(ctx context.Context, st *store.Store, id string) error {
	ok, err := st.HasChangeset(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("changeset %s: %w", id, store.ErrNotFound)
	}
	return nil
}
