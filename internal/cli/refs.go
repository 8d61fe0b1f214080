package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/kilupskalvis/refbridge/internal/models"
	"github.com/kilupskalvis/refbridge/internal/refpath"
	"github.com/kilupskalvis/refbridge/internal/remote"
	"github.com/spf13/cobra"
)

var (
	refsURL   string
	refsRepo  string
	refsToken string

	refsListHead     bool
	refsBranchSort   string
	refsExceptPrefix []string
)

var refsCmd = &cobra.Command{
	Use:   "refs",
	Short: "Query and prune refs on a refbridge server",
	Long: `Query the Git refs a refbridge server exposes for one repository.

The server, repository and token come from --url, --repo and --token or from
REFBRIDGE_URL, REFBRIDGE_REPO and REFBRIDGE_TOKEN.`,
}

var refsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every ref",
	Args:  cobra.NoArgs,
	Run: refsRun(func(ctx context.Context, c remote.RefClient, _ []string) error {
		return listRefs(ctx, c, os.Stdout, refsListHead)
	}),
}

var refsBranchesCmd = &cobra.Command{
	Use:   "branches",
	Short: "List branches with their head commits",
	Args:  cobra.NoArgs,
	Run: refsRun(func(ctx context.Context, c remote.RefClient, _ []string) error {
		return listBranches(ctx, c, os.Stdout, refsBranchSort)
	}),
}

var refsTagsCmd = &cobra.Command{
	Use:   "tags",
	Short: "List tags",
	Args:  cobra.NoArgs,
	Run: refsRun(func(ctx context.Context, c remote.RefClient, _ []string) error {
		return listTags(ctx, c, os.Stdout)
	}),
}

var refsExistsCmd = &cobra.Command{
	Use:   "exists <ref>",
	Short: "Check whether a ref exists",
	Long: `Check whether a ref exists. Exits with status 1 if it does not.

Examples:
  refbridge refs exists refs/heads/main
  refbridge refs exists refs/pipelines/345`,
	Args: cobra.ExactArgs(1),
	Run: refsRun(func(ctx context.Context, c remote.RefClient, args []string) error {
		resp, err := c.RefExists(ctx, &remote.RefExistsRequest{Ref: args[0]})
		if err != nil {
			return err
		}
		if !resp.Value {
			return fmt.Errorf("%s does not exist", args[0])
		}
		fmt.Printf("%s exists\n", args[0])
		return nil
	}),
}

var refsDefaultBranchCmd = &cobra.Command{
	Use:   "default-branch",
	Short: "Print the default branch",
	Args:  cobra.NoArgs,
	Run: refsRun(func(ctx context.Context, c remote.RefClient, _ []string) error {
		resp, err := c.FindDefaultBranchName(ctx, &remote.FindDefaultBranchNameRequest{})
		if err != nil {
			return err
		}
		if resp.Name == refpath.BranchRef("") {
			return errors.New("repository has no default branch")
		}
		fmt.Println(resp.Name)
		return nil
	}),
}

var refsDeleteCmd = &cobra.Command{
	Use:   "delete [ref...]",
	Short: "Delete special refs",
	Long: `Delete special refs. Either name the refs to delete, or pass one or more
--except-prefix flags to delete every special ref outside those prefixes.

Examples:
  refbridge refs delete refs/pipelines/12 refs/environments/prod
  refbridge refs delete --except-prefix refs/merge-requests/`,
	Run: refsRun(func(ctx context.Context, c remote.RefClient, args []string) error {
		req, err := deleteRefsRequest(args, refsExceptPrefix)
		if err != nil {
			return err
		}
		resp, err := c.DeleteRefs(ctx, req)
		if err != nil {
			return err
		}
		if resp.GitError != "" {
			return errors.New(resp.GitError)
		}
		color.New(color.FgGreen).Println("Deleted")
		return nil
	}),
}

func init() {
	pf := refsCmd.PersistentFlags()
	pf.StringVar(&refsURL, "url", os.Getenv("REFBRIDGE_URL"), "Server URL")
	pf.StringVar(&refsRepo, "repo", os.Getenv("REFBRIDGE_REPO"), "Repository name")
	pf.StringVar(&refsToken, "token", os.Getenv("REFBRIDGE_TOKEN"), "Access token")

	refsListCmd.Flags().BoolVar(&refsListHead, "head", false, "Include HEAD")
	refsBranchesCmd.Flags().StringVar(&refsBranchSort, "sort", "NAME", "Order (NAME|UPDATED_ASC|UPDATED_DESC)")
	refsDeleteCmd.Flags().StringArrayVar(&refsExceptPrefix, "except-prefix", nil, "Keep special refs under this prefix, repeat for multiple")

	refsCmd.AddCommand(refsListCmd, refsBranchesCmd, refsTagsCmd,
		refsExistsCmd, refsDefaultBranchCmd, refsDeleteCmd)
}

func newRefClient() (remote.RefClient, error) {
	if refsURL == "" {
		return nil, errors.New("server URL is required (--url or REFBRIDGE_URL)")
	}
	if refsRepo == "" {
		return nil, errors.New("repository is required (--repo or REFBRIDGE_REPO)")
	}
	return remote.NewRetryClient(remote.NewHTTPClient(refsURL, refsRepo, refsToken), nil), nil
}

func refsRun(fn func(ctx context.Context, c remote.RefClient, args []string) error) func(*cobra.Command, []string) {
	return func(_ *cobra.Command, args []string) {
		c, err := newRefClient()
		if err != nil {
			exitError("%v", err)
		}
		if err := fn(context.Background(), c, args); err != nil {
			exitError("%v", err)
		}
	}
}

// deleteRefsRequest builds a DeleteRefs request from the command line.
func deleteRefsRequest(refs, exceptPrefix []string) (*remote.DeleteRefsRequest, error) {
	switch {
	case len(refs) > 0 && len(exceptPrefix) > 0:
		return nil, errors.New("refs and --except-prefix are mutually exclusive")
	case len(refs) == 0 && len(exceptPrefix) == 0:
		return nil, errors.New("nothing to delete: name refs or pass --except-prefix")
	}
	return &remote.DeleteRefsRequest{Refs: refs, ExceptWithPrefix: exceptPrefix}, nil
}

// refColor picks the display color of a ref path.
func refColor(name string) *color.Color {
	switch {
	case name == refpath.All || name == refpath.Head:
		return color.New(color.FgCyan)
	case strings.HasPrefix(name, "refs/heads/"):
		return color.New(color.FgGreen)
	case strings.HasPrefix(name, "refs/tags/"):
		return color.New(color.FgYellow)
	}
	return color.New(color.Reset)
}

func printRef(w io.Writer, ref models.Reference) {
	fmt.Fprintf(w, "%s %s\n", color.New(color.FgHiBlack).Sprint(ref.Target), refColor(ref.Name).Sprint(ref.Name))
}

func listRefs(ctx context.Context, c remote.RefClient, w io.Writer, head bool) error {
	return c.ListRefs(ctx, &remote.ListRefsRequest{Head: head}, func(resp *remote.ListRefsResponse) error {
		for _, ref := range resp.References {
			printRef(w, ref)
		}
		return nil
	})
}

func listBranches(ctx context.Context, c remote.RefClient, w io.Writer, sortBy string) error {
	req := &remote.FindLocalBranchesRequest{SortBy: sortBy}
	return c.FindLocalBranches(ctx, req, func(resp *remote.FindLocalBranchesResponse) error {
		for _, b := range resp.Branches {
			fmt.Fprintf(w, "%s %s %s\n",
				color.New(color.FgHiBlack).Sprint(shortID(b.CommitID)),
				color.New(color.FgGreen).Sprint(b.Name),
				b.CommitSubject)
		}
		return nil
	})
}

func listTags(ctx context.Context, c remote.RefClient, w io.Writer) error {
	return c.FindAllTags(ctx, &remote.FindAllTagsRequest{}, func(resp *remote.FindAllTagsResponse) error {
		for _, t := range resp.Tags {
			fmt.Fprintf(w, "%s %s\n",
				color.New(color.FgHiBlack).Sprint(shortID(t.ID)),
				color.New(color.FgYellow).Sprint(t.Name))
		}
		return nil
	})
}
