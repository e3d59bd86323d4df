// Package watch provides a reference client that mirrors the server's
// issues and comments into local lists and prints them as they change.
package watch

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/agentstation/livesync/internal/cmd/application"
	"github.com/agentstation/livesync/internal/cmd/output"
	"github.com/agentstation/livesync/pkg/client"
	"github.com/agentstation/livesync/pkg/client/session"
	"github.com/agentstation/livesync/pkg/errors"
	"github.com/agentstation/livesync/pkg/protocol"
	"github.com/agentstation/livesync/pkg/reconcile"
	"github.com/agentstation/livesync/pkg/resources"
	"github.com/agentstation/livesync/pkg/rooms"
)

// Options are the settings of one watch.
type Options struct {
	URL        string
	Token      string
	RefreshURL string
	Throttle   time.Duration
	Namespace  string
	Name       string
	Once       bool
	Format     output.Format
}

// NewCommand creates the watch command.
func NewCommand(app application.Application) *cobra.Command {
	var opts Options

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Mirror issues and comments from a livesync server",
		Long: `Connect to a livesync server, subscribe to a namespace and keep local
copies of its issues and comments current. The lists are printed after
every change, or once after the initial load with --once.`,
		Example: `  # Watch every issue and the comments of one namespace
  livesync watch --token $TOKEN --namespace garden-dev

  # Print the current state as YAML and exit
  livesync watch --token $TOKEN --once --format yaml`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := app.Config().Client
			if !cmd.Flags().Changed("url") {
				opts.URL = cfg.URL
			}
			if !cmd.Flags().Changed("token") {
				opts.Token = cfg.Token
			}
			if !cmd.Flags().Changed("refresh-url") {
				opts.RefreshURL = cfg.RefreshURL
			}
			if !cmd.Flags().Changed("throttle") && cfg.Throttle > 0 {
				opts.Throttle = cfg.Throttle
			}
			f, err := output.ParseFormat(app.OutputFormat())
			if err != nil {
				return err
			}
			opts.Format = output.DetectFormat(string(f))
			return Run(cmd.Context(), opts, cmd.OutOrStdout(), app.Logger())
		},
	}

	cmd.Flags().StringVar(&opts.URL, "url", "", "websocket endpoint of the server")
	cmd.Flags().StringVar(&opts.Token, "token", "", "access token (JWT)")
	cmd.Flags().StringVar(&opts.RefreshURL, "refresh-url", "", "token refresh endpoint")
	cmd.Flags().DurationVar(&opts.Throttle, "throttle", reconcile.DefaultWait, "minimum interval between re-fetches")
	cmd.Flags().StringVar(&opts.Namespace, "namespace", "", "namespace whose comments to receive (_all for every accessible one)")
	cmd.Flags().StringVar(&opts.Name, "name", "", "restrict comments to one resource of the namespace")
	cmd.Flags().BoolVar(&opts.Once, "once", false, "print the initial state and exit")

	return cmd
}

// Run watches until ctx is done, the session ends or, with Once, the
// initial load has been printed.
func Run(ctx context.Context, opts Options, w io.Writer, logger *zerolog.Logger) error {
	if opts.Token == "" {
		return errors.NewAuthenticationError(errors.CodeTokenInvalid, "a token is required", errors.ErrNoUser)
	}
	tok, err := session.ParseToken(opts.Token)
	if err != nil {
		return err
	}
	var refresher session.Refresher
	if opts.RefreshURL != "" {
		refresher = session.NewHTTPRefresher(opts.RefreshURL)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	conn := client.New(client.Options{
		URL:    opts.URL,
		Guard:  session.NewGuard(tok, refresher, session.WithLogger(logger)),
		Logger: logger,
	})

	p := &printer{w: w, f: output.NewFormatter(opts.Format), format: opts.Format}

	issueUID := func(i resources.Issue) string { return i.UID() }
	issues := reconcile.NewListStore(issueUID)
	issueEngine := reconcile.New(reconcile.Config[resources.Issue]{
		Resource: protocol.ChannelIssues,
		UID:      issueUID,
		Fetch:    client.Fetcher[resources.Issue](conn, protocol.ChannelIssues),
		List:     client.Lister[resources.Issue](conn, protocol.ChannelIssues),
		Store:    issues,
		Logger:   logger,
	})

	commentUID := func(c resources.Comment) string { return c.UID() }
	comments := reconcile.NewListStore(commentUID)
	commentEngine := reconcile.New(reconcile.Config[resources.Comment]{
		Resource: protocol.ChannelComments,
		UID:      commentUID,
		Fetch:    client.Fetcher[resources.Comment](conn, protocol.ChannelComments),
		List:     client.Lister[resources.Comment](conn, protocol.ChannelComments),
		Store:    comments,
		Logger:   logger,
	})

	defer client.Attach(conn, protocol.ChannelIssues, issueEngine)()
	defer client.Attach(conn, protocol.ChannelComments, commentEngine)()

	if opts.Namespace != "" {
		if err := conn.Subscribe(ctx, rooms.Request{Namespace: opts.Namespace, Name: opts.Name}); err != nil {
			return err
		}
	}

	if opts.Once {
		conn.OnResync(func(context.Context) error {
			err := p.print(issues.Items(), comments.Items())
			cancel()
			return err
		})
	} else {
		issueEngine.Start(opts.Throttle)
		commentEngine.Start(opts.Throttle)
		defer issueEngine.Stop()
		defer commentEngine.Stop()

		issues.OnChange(func(items []resources.Issue) { p.printIssues(items) })
		comments.OnChange(func(items []resources.Comment) { p.printComments(items) })
	}

	err = conn.Run(ctx)
	_ = conn.Close()
	return err
}

type printer struct {
	mu     sync.Mutex
	w      io.Writer
	f      output.Formatter
	format output.Format
}

type snapshot struct {
	Issues   []resources.Issue   `json:"issues"   yaml:"issues"`
	Comments []resources.Comment `json:"comments" yaml:"comments"`
}

func (p *printer) print(issues []resources.Issue, comments []resources.Comment) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.format != output.FormatTable {
		return p.f.Format(p.w, snapshot{Issues: issues, Comments: comments})
	}
	if err := p.f.Format(p.w, issueTable(issues)); err != nil {
		return err
	}
	return p.f.Format(p.w, commentTable(comments))
}

func (p *printer) printIssues(items []resources.Issue) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var data any = items
	if p.format == output.FormatTable {
		data = issueTable(items)
	}
	if err := p.f.Format(p.w, data); err != nil {
		fmt.Fprintln(p.w, err)
	}
}

func (p *printer) printComments(items []resources.Comment) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var data any = items
	if p.format == output.FormatTable {
		data = commentTable(items)
	}
	if err := p.f.Format(p.w, data); err != nil {
		fmt.Fprintln(p.w, err)
	}
}

func issueTable(items []resources.Issue) output.Data {
	data := output.Data{
		Headers:         []string{"#", "Project", "Name", "State", "Updated", "Title"},
		ColumnAlignment: []output.Align{output.AlignRight},
	}
	for _, i := range items {
		data.Rows = append(data.Rows, []string{
			strconv.Itoa(i.Metadata.Number),
			i.Metadata.ProjectName,
			i.Metadata.Name,
			i.Metadata.State,
			i.Metadata.UpdatedAt.Format(time.RFC3339),
			i.Data.Title,
		})
	}
	return data
}

func commentTable(items []resources.Comment) output.Data {
	data := output.Data{
		Headers:         []string{"UID", "Author", "Updated", "Body"},
		ColumnAlignment: []output.Align{output.AlignRight},
	}
	for _, c := range items {
		data.Rows = append(data.Rows, []string{
			c.UID(),
			c.Data.User.Login,
			c.Metadata.UpdatedAt.Format(time.RFC3339),
			c.Data.Body,
		})
	}
	return data
}
