package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/lattice-docs/graphrag/internal/setup"
	"github.com/lattice-docs/graphrag/internal/util"
	"github.com/lattice-docs/graphrag/pkg/graphstore"
	"github.com/lattice-docs/graphrag/pkg/ingest"
	"github.com/lattice-docs/graphrag/pkg/logger"
)

func main() {
	util.LoadEnv()

	root := flag.String("root", ".", "base directory for docs and data side-files")
	docsRoot := flag.String("docs-root", "", "markdown source directory (default docs)")
	locale := flag.String("locale", "", "restrict ingestion to one locale")
	adapter := flag.String("adapter", "", "entity extractor: placeholder or llm")
	adapterModel := flag.String("adapter-model", "", "override the extractor model")
	includeDrafts := flag.Bool("include-drafts", false, "ingest documents marked draft")
	changedOnly := flag.Bool("changed-only", false, "only process documents whose hash changed")
	noCache := flag.Bool("no-cache", false, "ignore and do not update the ingest cache")
	noWrite := flag.Bool("no-write", false, "run the pipeline without writing to Neo4j")
	dryRun := flag.Bool("dry-run", false, "alias for --no-write")
	skipSchema := flag.Bool("skip-schema", false, "skip constraint and index setup")
	jsonOut := flag.Bool("json", false, "print the run summary as JSON")
	includeFile := flag.String("include-file", "", "file listing doc ids to include")
	ignoreFile := flag.String("ignore-file", "", "file listing doc ids to skip")
	neo4jURI := flag.String("neo4j-uri", "", "override NEO4J_URI")
	neo4jUser := flag.String("neo4j-user", "", "override NEO4J_USER")
	neo4jPassword := flag.String("neo4j-password", "", "override NEO4J_PASSWORD")
	neo4jDB := flag.String("neo4j-db", "", "override NEO4J_DB")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	setup.InitLogging(*debug)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := ingest.Options{
		Root:          *root,
		DocsRoot:      *docsRoot,
		Locale:        *locale,
		IncludeDrafts: *includeDrafts,
		ChangedOnly:   *changedOnly,
		NoCache:       *noCache,
		NoWrite:       *noWrite || *dryRun,
		SkipSchema:    *skipSchema,
		Adapter:       *adapter,
		AdapterModel:  *adapterModel,
		Neo4j:         mergeNeo4jConfig(*neo4jURI, *neo4jUser, *neo4jPassword, *neo4jDB),
	}

	if *includeFile != "" {
		include, err := ingest.ReadFilterFile(*includeFile)
		if err != nil {
			logger.Fatal("Could not read include file", "path", *includeFile, "err", err)
		}
		opts.Include = include
	}
	if *ignoreFile != "" {
		ignore, err := ingest.ReadFilterFile(*ignoreFile)
		if err != nil {
			logger.Fatal("Could not read ignore file", "path", *ignoreFile, "err", err)
		}
		opts.Ignore = ignore
	}

	// The LLM extractor and the normalizers share one model client.
	// Placeholder runs may still want normalization, so the client is
	// created whenever credentials are available.
	client, err := setup.NewAIClientFromEnv()
	if err != nil {
		if opts.Adapter == "llm" || util.GetEnvString("GRAPHRAG_ENTITY_ADAPTER", "placeholder") == "llm" {
			logger.Fatal("Could not create model client", "err", err)
		}
		logger.Warn("模型客户端不可用，归一化将使用降级路径", "err", err)
	} else {
		opts.Client = client
	}

	summary, err := ingest.Run(ctx, opts)
	if err != nil && !errors.Is(err, ingest.ErrGuardFailure) {
		logger.Fatal("Ingest pipeline failed", "err", err)
	}

	if *jsonOut && summary != nil {
		encoded, encodeErr := json.MarshalIndent(summary, "", "  ")
		if encodeErr != nil {
			logger.Fatal("Could not encode summary", "err", encodeErr)
		}
		os.Stdout.Write(append(encoded, '\n'))
	} else if summary != nil {
		logger.Info("Ingest 完成",
			"total", summary.TotalDocuments,
			"ready", summary.ReadyForWrite,
			"skipped", summary.Skipped,
			"written", summary.Written,
		)
	}

	if errors.Is(err, ingest.ErrGuardFailure) {
		logger.Error("归一化守门未通过，写入已中止")
		os.Exit(1)
	}
}

func mergeNeo4jConfig(uri, user, password, database string) graphstore.Config {
	cfg := graphstore.ConfigFromEnv()
	if uri != "" {
		cfg.URI = uri
	}
	if user != "" {
		cfg.Username = user
	}
	if password != "" {
		cfg.Password = password
	}
	if database != "" {
		cfg.Database = database
	}
	return cfg
}
