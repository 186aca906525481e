package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/lattice-docs/graphrag/internal/setup"
	"github.com/lattice-docs/graphrag/internal/util"
	"github.com/lattice-docs/graphrag/pkg/export"
	"github.com/lattice-docs/graphrag/pkg/graphstore"
	"github.com/lattice-docs/graphrag/pkg/logger"
)

type multiFlag []string

func (m *multiFlag) String() string { return strings.Join(*m, ",") }

func (m *multiFlag) Set(value string) error {
	*m = append(*m, value)
	return nil
}

func main() {
	util.LoadEnv()

	docID := flag.String("doc-id", "", "document id to export")
	topic := flag.String("topic", "", "output directory name, derived from the doc id by default")
	locale := flag.String("locale", "", "locale filter for recommendations")
	outputRoot := flag.String("output", export.DefaultOutputRoot, "export root directory")
	root := flag.String("root", ".", "base directory for output paths")
	dryRun := flag.Bool("dry-run", false, "log target paths without writing")
	pretty := flag.Bool("pretty", true, "indent the metadata JSON")
	neo4jURI := flag.String("neo4j-uri", "", "override NEO4J_URI")
	neo4jUser := flag.String("neo4j-user", "", "override NEO4J_USER")
	neo4jPassword := flag.String("neo4j-password", "", "override NEO4J_PASSWORD")
	neo4jDB := flag.String("neo4j-db", "", "override NEO4J_DB")
	debug := flag.Bool("debug", false, "enable debug logging")

	var entities multiFlag
	flag.Var(&entities, "entity", "entity name to focus on, repeatable")
	flag.Parse()

	setup.InitLogging(*debug)

	if *docID == "" {
		logger.Fatal("请通过 --doc-id 指定目标文档")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := graphstore.ConfigFromEnv()
	if *neo4jURI != "" {
		cfg.URI = *neo4jURI
	}
	if *neo4jUser != "" {
		cfg.Username = *neo4jUser
	}
	if *neo4jPassword != "" {
		cfg.Password = *neo4jPassword
	}
	if *neo4jDB != "" {
		cfg.Database = *neo4jDB
	}
	if cfg.Password == "" {
		logger.Fatal("缺少 NEO4J_PASSWORD")
	}

	store, err := graphstore.NewClient(ctx, cfg)
	if err != nil {
		logger.Fatal("Could not connect to Neo4j", "err", err)
	}
	defer store.Close(ctx)

	result, err := export.ExportTopic(ctx, store, *root, export.Options{
		DocID:      *docID,
		Topic:      *topic,
		Locale:     *locale,
		OutputRoot: *outputRoot,
		Entities:   entities,
		DryRun:     *dryRun,
		Pretty:     *pretty,
	})
	if err != nil {
		logger.Fatal("导出失败", "err", err)
	}

	logger.Info("导出完成", "topic", result.Topic, "dir", result.Dir)
}
