package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/lattice-docs/graphrag/internal/setup"
	"github.com/lattice-docs/graphrag/internal/util"
	"github.com/lattice-docs/graphrag/pkg/ai"
	"github.com/lattice-docs/graphrag/pkg/graphstore"
	"github.com/lattice-docs/graphrag/pkg/logger"
	"github.com/lattice-docs/graphrag/pkg/retrieval"
)

type multiFlag []string

func (m *multiFlag) String() string { return strings.Join(*m, ",") }

func (m *multiFlag) Set(value string) error {
	*m = append(*m, value)
	return nil
}

// requestPayload is the JSON body read from --input or stdin. Fields
// are shared across modes; each mode picks what it needs.
type requestPayload struct {
	DocID       string    `json:"docId"`
	EntityNames []string  `json:"entityNames"`
	Labels      []string  `json:"allowedLabels"`
	RelTypes    []string  `json:"relationshipTypes"`
	MaxHops     int       `json:"maxHops"`
	NodeLimit   int       `json:"nodeLimit"`
	EdgeLimit   int       `json:"edgeLimit"`
	Limit       int       `json:"limit"`
	Source      string    `json:"source"`
	Target      string    `json:"target"`
	MaxLength   int       `json:"maxLength"`
	Question    string    `json:"question"`
	Embedding   []float32 `json:"embedding"`
	VectorIndex string    `json:"vectorIndex"`
	Sources     []string  `json:"sources"`
	Alpha       []float64 `json:"alpha"`
	Category    string    `json:"category"`
	Language    string    `json:"language"`
}

func readPayload(source string) (*requestPayload, error) {
	var raw []byte
	var err error
	if source == "" || source == "-" {
		raw, err = io.ReadAll(os.Stdin)
	} else {
		raw, err = os.ReadFile(source)
	}
	if err != nil {
		return nil, err
	}
	payload := &requestPayload{}
	if len(raw) == 0 {
		return payload, nil
	}
	if err := json.Unmarshal(raw, payload); err != nil {
		return nil, fmt.Errorf("解析输入 JSON 失败: %w", err)
	}
	return payload, nil
}

func parseAlpha(values []string) []float64 {
	var alpha []float64
	for _, value := range values {
		parsed, err := strconv.ParseFloat(value, 64)
		if err != nil {
			continue
		}
		alpha = append(alpha, parsed)
	}
	return alpha
}

func writeResult(result any, output string, pretty bool) error {
	var encoded []byte
	var err error
	if pretty {
		encoded, err = json.MarshalIndent(result, "", "  ")
	} else {
		encoded, err = json.Marshal(result)
	}
	if err != nil {
		return err
	}
	encoded = append(encoded, '\n')
	if output == "" {
		_, err = os.Stdout.Write(encoded)
		return err
	}
	if err := os.MkdirAll(filepath.Dir(output), 0o755); err != nil {
		return err
	}
	return os.WriteFile(output, encoded, 0o644)
}

func main() {
	util.LoadEnv()

	mode := flag.String("mode", "", "query mode: subgraph, path, topn or hybrid")
	input := flag.String("input", "", "JSON payload file, - for stdin")
	output := flag.String("output", "", "write the result to this file instead of stdout")
	maxHops := flag.Int("max-hops", 0, "subgraph expansion depth / path length bound")
	limit := flag.Int("limit", 0, "result limit for topn and hybrid")
	vectorIndex := flag.String("vector-index", "", "embedding index name for hybrid search")
	root := flag.String("root", ".", "base directory for embedding index side-files")
	pretty := flag.Bool("pretty", false, "indent the JSON output")
	neo4jURI := flag.String("neo4j-uri", "", "override NEO4J_URI")
	neo4jUser := flag.String("neo4j-user", "", "override NEO4J_USER")
	neo4jPassword := flag.String("neo4j-password", "", "override NEO4J_PASSWORD")
	neo4jDB := flag.String("neo4j-db", "", "override NEO4J_DB")
	debug := flag.Bool("debug", false, "enable debug logging")

	var includeLabels, hybridSources, hybridAlpha multiFlag
	flag.Var(&includeLabels, "include-label", "allowed node label, repeatable")
	flag.Var(&hybridSources, "hybrid-source", "hybrid signal source (vector/structure), repeatable")
	flag.Var(&hybridAlpha, "hybrid-alpha", "hybrid blend weight, repeat for vector then structure")
	flag.Parse()

	setup.InitLogging(*debug)

	if *mode == "" {
		logger.Fatal("请通过 --mode 指定 subgraph/path/topn/hybrid")
	}

	payload, err := readPayload(*input)
	if err != nil {
		logger.Fatal("读取查询输入失败", "err", err)
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

	var result any
	switch *mode {
	case "subgraph":
		constraints := retrieval.Constraints{
			EntityNames: payload.EntityNames,
			Labels:      payload.Labels,
			RelTypes:    payload.RelTypes,
			MaxHops:     firstPositive(*maxHops, payload.MaxHops),
			NodeLimit:   firstPositive(*limit, payload.NodeLimit),
			EdgeLimit:   payload.EdgeLimit,
		}
		if len(includeLabels) > 0 {
			constraints.Labels = includeLabels
		}
		result, err = retrieval.FetchSubgraph(ctx, store, payload.DocID, constraints)
	case "path":
		result, err = retrieval.FetchShortestPath(ctx, store, payload.Source, payload.Target,
			firstPositive(*maxHops, payload.MaxLength))
	case "topn":
		result, err = retrieval.FetchTopN(ctx, store, retrieval.TopNParams{
			EntityNames: payload.EntityNames,
			Category:    payload.Category,
			Language:    payload.Language,
			Limit:       firstPositive(*limit, payload.Limit),
		})
	case "hybrid":
		query := retrieval.HybridQuery{
			Question:    payload.Question,
			Embedding:   payload.Embedding,
			Limit:       firstPositive(*limit, payload.Limit),
			Sources:     payload.Sources,
			Alpha:       payload.Alpha,
			VectorIndex: firstNonEmpty(*vectorIndex, payload.VectorIndex),
		}
		if len(hybridSources) > 0 {
			query.Sources = hybridSources
		}
		if alpha := parseAlpha(hybridAlpha); len(alpha) > 0 {
			query.Alpha = alpha
		}
		var client ai.GraphAIClient
		if len(query.Embedding) == 0 {
			client, err = setup.NewAIClientFromEnv()
			if err != nil {
				logger.Fatal("Could not create model client", "err", err)
			}
		}
		result, err = retrieval.SearchHybrid(ctx, store, client, *root, query)
	default:
		logger.Fatal("未知 mode", "mode", *mode)
	}
	if err != nil {
		logger.Fatal("查询失败", "mode", *mode, "err", err)
	}

	if err := writeResult(result, *output, *pretty); err != nil {
		logger.Fatal("输出结果失败", "err", err)
	}
	logger.Info("完成查询", "mode", *mode)
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
