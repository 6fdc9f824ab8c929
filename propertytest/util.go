// Package propertytest drives the anki-mcp binary over stdio with
// generated command sequences and checks it against a model collection.
package propertytest

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"reflect"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/danieldreier/anki-mcp/internal/ankitest"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
)

var (
	buildOnce sync.Once
	binPath   string
	buildErr  error
	binDir    string
)

// BuildServer compiles cmd/anki-mcp once per test binary and returns its path.
func BuildServer(t *testing.T) (string, error) {
	t.Helper()
	buildOnce.Do(func() {
		wd, err := os.Getwd()
		if err != nil {
			buildErr = fmt.Errorf("failed to get current directory: %w", err)
			return
		}
		if filepath.Base(wd) == "propertytest" {
			wd = filepath.Dir(wd)
		}

		binDir, err = os.MkdirTemp("", "anki-mcp-bin-*")
		if err != nil {
			buildErr = fmt.Errorf("failed to create build directory: %w", err)
			return
		}
		binPath = filepath.Join(binDir, "anki-mcp")

		t.Logf("Building anki-mcp binary at %s", binPath)
		cmd := exec.Command("go", "build", "-o", binPath, "./cmd/anki-mcp")
		cmd.Dir = wd
		if out, err := cmd.CombinedOutput(); err != nil {
			buildErr = fmt.Errorf("failed to build anki-mcp binary: %v\nOutput: %s", err, out)
		}
	})
	return binPath, buildErr
}

// RemoveBuild deletes the directory BuildServer compiled into.
func RemoveBuild() {
	if binDir != "" {
		os.RemoveAll(binDir)
	}
}

// SetupPropertyTestClient starts a fake AnkiConnect and an anki-mcp
// process wired to it, and initializes an MCP client session.
func SetupPropertyTestClient(t *testing.T) (*AnkiSUT, error) {
	t.Helper()

	bin, err := BuildServer(t)
	if err != nil {
		return nil, err
	}

	anki := ankitest.NewServer()
	mcpClient, err := client.NewStdioMCPClient(
		bin,
		[]string{
			"ANKI_MCP_CONFIG=",
			"ANKI_CONNECT_URL=" + anki.URL,
			"MAX_RETRIES=1",
			"RETRY_DELAY=0.01",
			"LOG_LEVEL=error",
		},
		"serve",
	)
	if err != nil {
		anki.Close()
		return nil, fmt.Errorf("failed to start anki-mcp client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)

	initRequest := mcp.InitializeRequest{}
	initRequest.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initRequest.Params.ClientInfo = mcp.Implementation{
		Name:    "anki-mcp-property-test-client",
		Version: "0.1.0",
	}
	if _, err := mcpClient.Initialize(ctx, initRequest); err != nil {
		mcpClient.Close()
		cancel()
		anki.Close()
		return nil, fmt.Errorf("failed to initialize MCP client: %w", err)
	}

	return &AnkiSUT{
		Client: mcpClient,
		Anki:   anki,
		Ctx:    ctx,
		Cancel: cancel,
		T:      t,
	}, nil
}

// CallText calls a tool and returns its first text block.
func CallText(ctx context.Context, c *client.Client, name string, args map[string]interface{}) (ToolResult, error) {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	res, err := c.CallTool(ctx, req)
	if err != nil {
		return ToolResult{}, fmt.Errorf("%s failed: %w", name, err)
	}
	if len(res.Content) == 0 {
		return ToolResult{}, fmt.Errorf("%s: no content returned", name)
	}
	text, ok := res.Content[0].(mcp.TextContent)
	if !ok {
		return ToolResult{}, fmt.Errorf("%s: expected TextContent, got %T", name, res.Content[0])
	}
	return ToolResult{Text: text.Text, IsError: res.IsError}, nil
}

// --- Generators ---

// GenNonEmptyString generates alphabetic strings of 1 to maxLength
// characters. The length is drawn first so no sample is ever discarded.
func GenNonEmptyString(maxLength int) gopter.Gen {
	return gen.IntRange(1, maxLength).FlatMap(func(n interface{}) gopter.Gen {
		return gen.SliceOfN(n.(int), gen.AlphaChar()).Map(func(r []rune) string {
			return string(r)
		})
	}, reflect.TypeOf("")).WithLabel("NonEmptyString")
}

// GenTags generates a sorted slice of unique, non-empty tags.
func GenTags(maxTags int, maxTagLength int) gopter.Gen {
	return gen.IntRange(0, maxTags).FlatMap(func(n interface{}) gopter.Gen {
		return gen.SliceOfN(n.(int), GenNonEmptyString(maxTagLength))
	}, reflect.TypeOf([]string(nil))).
		Map(func(tags []string) []string {
			seen := make(map[string]struct{})
			result := []string{}
			for _, tag := range tags {
				if _, exists := seen[tag]; !exists && len(result) < maxTags {
					seen[tag] = struct{}{}
					result = append(result, tag)
				}
			}
			sort.Strings(result)
			return result
		}).WithLabel("UniqueTags")
}

// GenDeck picks from a small set of deck names so sequences collide.
func GenDeck() gopter.Gen {
	return gen.OneConstOf("Default", "Spanish", "French", "Physics").WithLabel("Deck")
}

// --- Helper functions ---

// HasTag reports whether tags holds tag, ignoring case like Anki's tag: search.
func HasTag(tags []string, tag string) bool {
	for _, t := range tags {
		if strings.EqualFold(t, tag) {
			return true
		}
	}
	return false
}

// InterfaceSlice converts a string slice to the []interface{} shape of MCP arguments.
func InterfaceSlice(values []string) []interface{} {
	interfaces := make([]interface{}, len(values))
	for i, s := range values {
		interfaces[i] = s
	}
	return interfaces
}
