// Package crawler keeps the external Glue catalog in sync with the
// data folders in the object store. Only folders the catalog does not
// know yet are sent: re-crawling hundreds of known tables on every run
// is pointless and slow.
package crawler

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/glue"

	"github.com/statmirror/statmirror/internal/catalog"
	"github.com/statmirror/statmirror/internal/logging"
)

// Config parameterizes the Glue crawler sync.
type Config struct {
	Enabled     bool   `yaml:"enabled"`
	CrawlerName string `yaml:"crawler_name"`
	Database    string `yaml:"database"`
	Role        string `yaml:"role"`
	Region      string `yaml:"region"`
	// DataURI is the S3 prefix holding the data folders, e.g.
	// "s3://bucket/statscan/data/". Always slash-terminated.
	DataURI string `yaml:"data_uri"`
}

// glueAPI is the slice of the Glue client the syncer uses.
type glueAPI interface {
	GetTablesWithContext(ctx aws.Context, input *glue.GetTablesInput, opts ...request.Option) (*glue.GetTablesOutput, error)
	UpdateCrawlerWithContext(ctx aws.Context, input *glue.UpdateCrawlerInput, opts ...request.Option) (*glue.UpdateCrawlerOutput, error)
	StartCrawlerWithContext(ctx aws.Context, input *glue.StartCrawlerInput, opts ...request.Option) (*glue.StartCrawlerOutput, error)
}

// Syncer pushes incremental crawl targets to Glue.
type Syncer struct {
	client glueAPI
	cfg    Config
	log    *slog.Logger
}

// New creates a syncer against the real Glue service.
func New(cfg Config) (*Syncer, error) {
	sess, err := session.NewSession(&aws.Config{Region: aws.String(cfg.Region)})
	if err != nil {
		return nil, fmt.Errorf("create aws session: %w", err)
	}
	return NewWithClient(glue.New(sess), cfg), nil
}

// NewWithClient creates a syncer with an injected client. Tests use
// this with a fake.
func NewWithClient(client glueAPI, cfg Config) *Syncer {
	cfg.DataURI = strings.TrimSuffix(cfg.DataURI, "/") + "/"
	return &Syncer{
		client: client,
		cfg:    cfg,
		log:    logging.Component("crawler"),
	}
}

// KnownTableIDs extracts product IDs from Glue table names. Glue
// rewrites folder names to "{digits}_rest_of_slug"; the table named
// "catalog" is the snapshot, not a dataset. Names that do not parse are
// skipped.
func KnownTableIDs(names []string) map[int64]bool {
	out := make(map[int64]bool, len(names))
	for _, name := range names {
		if name == "catalog" {
			continue
		}
		digits := name
		if i := strings.IndexByte(name, '_'); i >= 0 {
			digits = name[:i]
		}
		if digits == "" {
			continue
		}
		var id int64
		ok := true
		for _, c := range []byte(digits) {
			if c < '0' || c > '9' {
				ok = false
				break
			}
			id = id*10 + int64(c-'0')
		}
		if ok {
			out[id] = true
		}
	}
	return out
}

// NewFolders keeps only the folders whose product ID the catalog does
// not know yet. Unparseable folder names are dropped.
func NewFolders(folders []string, known map[int64]bool) []string {
	var out []string
	for _, folder := range folders {
		id, ok := catalog.ProductIDFromFolder(folder)
		if !ok || known[id] {
			continue
		}
		out = append(out, folder)
	}
	return out
}

// BuildTargets builds one S3 target per new folder plus the fixed
// catalog prefix, so schema changes to the snapshot are always picked
// up.
func BuildTargets(newFolders []string, dataURI string) []*glue.S3Target {
	targets := make([]*glue.S3Target, 0, len(newFolders)+1)
	for _, folder := range newFolders {
		targets = append(targets, &glue.S3Target{
			Path:       aws.String(dataURI + folder + "/"),
			Exclusions: []*string{},
		})
	}
	targets = append(targets, &glue.S3Target{
		Path:       aws.String(dataURI + "catalog/"),
		Exclusions: []*string{},
	})
	return targets
}

// Sync reconfigures the crawler with targets for folders Glue does not
// know yet and starts it. When every folder is already cataloged, no
// crawler API call is made at all.
func (s *Syncer) Sync(ctx context.Context, folders []string) error {
	known, err := s.knownTables(ctx)
	if err != nil {
		return err
	}

	fresh := NewFolders(folders, known)
	if len(fresh) == 0 {
		s.log.Info("all folders already cataloged, crawler not started",
			"folders", len(folders), "known_tables", len(known))
		return nil
	}

	targets := BuildTargets(fresh, s.cfg.DataURI)
	_, err = s.client.UpdateCrawlerWithContext(ctx, &glue.UpdateCrawlerInput{
		Name:         aws.String(s.cfg.CrawlerName),
		Role:         aws.String(s.cfg.Role),
		DatabaseName: aws.String(s.cfg.Database),
		Targets:      &glue.CrawlerTargets{S3Targets: targets},
		SchemaChangePolicy: &glue.SchemaChangePolicy{
			UpdateBehavior: aws.String(glue.UpdateBehaviorUpdateInDatabase),
			DeleteBehavior: aws.String(glue.DeleteBehaviorDeprecateInDatabase),
		},
	})
	if err != nil {
		return fmt.Errorf("update crawler %s: %w", s.cfg.CrawlerName, err)
	}

	_, err = s.client.StartCrawlerWithContext(ctx, &glue.StartCrawlerInput{
		Name: aws.String(s.cfg.CrawlerName),
	})
	if err != nil {
		return fmt.Errorf("start crawler %s: %w", s.cfg.CrawlerName, err)
	}

	s.log.Info("crawler started", "new_folders", len(fresh), "targets", len(targets))
	return nil
}

// knownTables pages through the Glue database's tables.
func (s *Syncer) knownTables(ctx context.Context) (map[int64]bool, error) {
	var names []string
	var token *string
	for {
		out, err := s.client.GetTablesWithContext(ctx, &glue.GetTablesInput{
			DatabaseName: aws.String(s.cfg.Database),
			NextToken:    token,
		})
		if err != nil {
			return nil, fmt.Errorf("list glue tables in %s: %w", s.cfg.Database, err)
		}
		for _, t := range out.TableList {
			if t.Name != nil {
				names = append(names, *t.Name)
			}
		}
		if out.NextToken == nil {
			break
		}
		token = out.NextToken
	}
	return KnownTableIDs(names), nil
}
