package main

import (
	"context"
	"encoding/json"
	"flag"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/lattice-docs/graphrag/internal/setup"
	"github.com/lattice-docs/graphrag/internal/util"
	"github.com/lattice-docs/graphrag/pkg/ai"
	"github.com/lattice-docs/graphrag/pkg/graphstore"
	"github.com/lattice-docs/graphrag/pkg/logger"
	"github.com/lattice-docs/graphrag/pkg/telemetry"
)

const exploreTelemetryLimit = 200

type multiFlag []string

func (m *multiFlag) String() string { return strings.Join(*m, ",") }

func (m *multiFlag) Set(value string) error {
	*m = append(*m, value)
	return nil
}

// explorePayload mirrors the JSON body accepted on --input.
type explorePayload struct {
	Kind     string        `json:"kind"`
	Value    string        `json:"value"`
	Question string        `json:"question"`
	DocID    string        `json:"docId"`
	Limit    int           `json:"limit"`
	Params   exploreParams `json:"params"`
}

func readPayload(source string) (*explorePayload, error) {
	var raw []byte
	var err error
	if source == "-" {
		raw, err = io.ReadAll(os.Stdin)
	} else {
		raw, err = os.ReadFile(source)
	}
	if err != nil {
		return nil, err
	}
	payload := &explorePayload{}
	if len(raw) == 0 {
		return payload, nil
	}
	if err := json.Unmarshal(raw, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

func main() {
	util.LoadEnv()

	input := flag.String("input", "", "JSON payload file, - for stdin")
	output := flag.String("output", "", "write the response to this file instead of stdout")
	kind := flag.String("kind", "", "exploration kind: question or doc")
	question := flag.String("question", "", "question text for kind=question")
	value := flag.String("value", "", "alias for --question")
	docID := flag.String("doc-id", "", "pivot document id for kind=doc")
	maxHops := flag.Int("max-hops", 0, "subgraph expansion depth")
	nodeLimit := flag.Int("node-limit", 0, "subgraph node cap")
	edgeLimit := flag.Int("edge-limit", 0, "subgraph edge cap")
	limit := flag.Int("limit", 0, "document result limit")
	root := flag.String("root", ".", "base directory for data side-files")
	pretty := flag.Bool("pretty", false, "indent the JSON output")
	neo4jURI := flag.String("neo4j-uri", "", "override NEO4J_URI")
	neo4jUser := flag.String("neo4j-user", "", "override NEO4J_USER")
	neo4jPassword := flag.String("neo4j-password", "", "override NEO4J_PASSWORD")
	neo4jDB := flag.String("neo4j-db", "", "override NEO4J_DB")
	debug := flag.Bool("debug", false, "enable debug logging")

	var includeLabels, includeEdgeTypes multiFlag
	flag.Var(&includeLabels, "include-label", "allowed node label, repeatable")
	flag.Var(&includeEdgeTypes, "include-edge-type", "allowed relationship type, repeatable")
	flag.Parse()

	setup.InitLogging(*debug)

	payload := &explorePayload{}
	if *input != "" {
		loaded, err := readPayload(*input)
		if err != nil {
			logger.Fatal("读取查询输入失败", "err", err)
		}
		payload = loaded
	}

	req := exploreRequest{
		Kind:     firstNonEmpty(*kind, payload.Kind),
		Question: firstNonEmpty(*question, *value, payload.Value, payload.Question),
		DocID:    firstNonEmpty(*docID, payload.DocID),
		Limit:    firstPositive(*limit, payload.Limit, 5),
		Params:   payload.Params,
	}
	if req.Kind == "" {
		if req.DocID != "" {
			req.Kind = "doc"
		} else {
			req.Kind = "question"
		}
	}
	req.Kind = strings.ToLower(req.Kind)
	req.Params.MaxHops = firstPositive(*maxHops, req.Params.MaxHops)
	req.Params.NodeLimit = firstPositive(*nodeLimit, req.Params.NodeLimit)
	req.Params.EdgeLimit = firstPositive(*edgeLimit, req.Params.EdgeLimit)
	if len(includeLabels) > 0 {
		req.Params.IncludeLabels = includeLabels
	}
	if len(includeEdgeTypes) > 0 {
		req.Params.IncludeEdgeTypes = includeEdgeTypes
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := mergeNeo4jConfig(*neo4jURI, *neo4jUser, *neo4jPassword, *neo4jDB)
	if cfg.Password == "" {
		logger.Fatal("缺少 NEO4J_PASSWORD")
	}
	store, err := graphstore.NewClient(ctx, cfg)
	if err != nil {
		logger.Fatal("Could not connect to Neo4j", "err", err)
	}
	defer store.Close(ctx)

	var client ai.GraphAIClient
	if req.Kind == "question" {
		client, err = setup.NewAIClientFromEnv()
		if err != nil {
			logger.Fatal("Could not create model client", "err", err)
		}
	}

	startedAt := time.Now()
	response, err := runExplore(ctx, store, client, *root, req)
	if err != nil {
		logger.Fatal("Explore 查询失败", "err", err)
	}
	response.Telemetry.DurationMs = time.Since(startedAt).Milliseconds()

	appendExploreTelemetry(*root, req, response)

	var encoded []byte
	if *pretty {
		encoded, err = json.MarshalIndent(response, "", "  ")
	} else {
		encoded, err = json.Marshal(response)
	}
	if err != nil {
		logger.Fatal("输出结果失败", "err", err)
	}
	encoded = append(encoded, '\n')
	if *output == "" {
		os.Stdout.Write(encoded)
	} else {
		if err := os.MkdirAll(filepath.Dir(*output), 0o755); err != nil {
			logger.Fatal("输出结果失败", "err", err)
		}
		if err := os.WriteFile(*output, encoded, 0o644); err != nil {
			logger.Fatal("输出结果失败", "err", err)
		}
		logger.Info("已写入", "path", *output)
	}
}

func appendExploreTelemetry(root string, req exploreRequest, response *exploreResponse) {
	nodes, edges := 0, 0
	truncatedNodes, truncatedEdges := false, false
	pivot := ""
	if response.Graph != nil {
		nodes = len(response.Graph.Nodes)
		edges = len(response.Graph.Edges)
		truncatedNodes = response.Graph.Stats.Nodes.Truncated
		truncatedEdges = response.Graph.Stats.Edges.Truncated
	}
	if response.Query.DocID != "" {
		pivot = response.Query.DocID
	}
	question := ""
	if req.Kind == "question" {
		question = req.Question
	}

	record := telemetry.Record{
		Scope: "explore",
		Detail: map[string]any{
			"mode":           req.Kind,
			"question":       question,
			"docId":          pivot,
			"docs":           len(response.Docs),
			"nodes":          nodes,
			"edges":          edges,
			"truncatedNodes": truncatedNodes,
			"truncatedEdges": truncatedEdges,
			"durationMs":     response.Telemetry.DurationMs,
			"sources":        response.Telemetry.Sources,
		},
	}
	if err := telemetry.Append(root, record, exploreTelemetryLimit); err != nil {
		logger.Warn("telemetry 写入失败", "err", err)
	}
}

func firstPositive(values ...int) int {
	for _, value := range values {
		if value > 0 {
			return value
		}
	}
	return 0
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
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
