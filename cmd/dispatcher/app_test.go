package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/tool-dispatcher/config"
	"github.com/angeloszaimis/tool-dispatcher/internal/handler"
)

func newToolServer() *httptest.Server {
	s := server.NewMCPServer("cmd-test-tools", "1.0.0", server.WithToolCapabilities(true))

	s.AddTool(mcp.NewTool("echo",
		mcp.WithString("message", mcp.Required()),
	), func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return mcp.NewToolResultText(fmt.Sprintf("%v", request.GetArguments()["message"])), nil
	})

	s.AddTool(mcp.NewTool("broken"), func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return mcp.NewToolResultError("tool is broken"), nil
	})

	return httptest.NewServer(server.NewStreamableHTTPServer(s))
}

func writeFile(dir, name, content string) string {
	path := filepath.Join(dir, name)
	Expect(os.WriteFile(path, []byte(content), 0o644)).To(Succeed())
	return path
}

var _ = Describe("Dispatcher command", func() {
	var (
		ts     *httptest.Server
		dir    string
		cfg    *config.Config
		log    *slog.Logger
		a      *app
		ctx    context.Context
		cancel context.CancelFunc
	)

	BeforeEach(func() {
		ts = newToolServer()
		dir = GinkgoT().TempDir()
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
		ctx, cancel = context.WithCancel(context.Background())

		var err error
		cfg, err = config.LoadFile(writeFile(dir, "config.yaml", fmt.Sprintf(`
engine:
  max_concurrent_requests: 4
  default_timeout: "5s"
retry:
  max_attempts: 2
  base_delay: "10ms"
  max_delay: "50ms"
  jitter: "0s"
health_check:
  interval: "50ms"
backends:
  - name: alpha
    url: "%[1]s/mcp"
    weight: 2
  - name: beta
    url: "%[1]s/mcp"
`, ts.URL)))
		Expect(err).NotTo(HaveOccurred())

		a, err = newApp(cfg, log)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		a.close()
		cancel()
		ts.Close()
	})

	Describe("newApp", func() {
		It("should reject a configuration without backends", func() {
			_, err := newApp(&config.Config{}, log)
			Expect(err).To(MatchError(errNoBackends))
		})

		It("should reject an unknown strategy", func() {
			broken := *cfg
			broken.Balancer.Strategy = "fastest"
			_, err := newApp(&broken, log)
			Expect(err).To(MatchError(ContainSubstring("unknown strategy")))
		})

		It("should register every backend with the balancer", func() {
			Expect(a.balancer.Backends()).To(Equal([]string{"alpha", "beta"}))
		})
	})

	Describe("executeBatch", func() {
		It("should print results in input order", func() {
			a.start(ctx, false)

			batch, err := readBatch(writeFile(dir, "batch.yaml", `
requests:
  - name: echo
    candidates: [alpha, beta]
    arguments:
      message: first
  - name: broken
    backend: beta
  - name: echo
    backend: alpha
    priority: critical
    arguments:
      message: third
`))
			Expect(err).NotTo(HaveOccurred())

			var out bytes.Buffer
			Expect(executeBatch(ctx, a, batch, &out)).To(Succeed())

			var result handler.BatchResult
			Expect(json.Unmarshal(out.Bytes(), &result)).To(Succeed())
			Expect(result.Results).To(HaveLen(3))

			Expect(result.Results[0].Success).To(BeTrue())
			Expect(result.Results[0].Data).To(Equal("first"))
			Expect(result.Results[0].Backend).To(BeElementOf("alpha", "beta"))

			Expect(result.Results[1].Success).To(BeFalse())
			Expect(result.Results[1].Kind).To(Equal("EXECUTOR"))
			Expect(result.Results[1].Error).To(ContainSubstring("tool is broken"))

			Expect(result.Results[2].Data).To(Equal("third"))
			Expect(result.Results[2].Backend).To(Equal("alpha"))
		})

		It("should reject an invalid batch before executing anything", func() {
			a.start(ctx, false)

			err := executeBatch(ctx, a, handler.Batch{Requests: []handler.Call{{Name: "echo"}}}, io.Discard)
			Expect(err).To(MatchError(ContainSubstring("backend or candidates required")))
		})
	})

	Describe("readBatch", func() {
		It("should fail on a missing file", func() {
			_, err := readBatch(filepath.Join(dir, "nope.yaml"))
			Expect(err).To(MatchError(ContainSubstring("read batch file")))
		})

		It("should fail on malformed YAML", func() {
			_, err := readBatch(writeFile(dir, "bad.yaml", "requests: [unclosed"))
			Expect(err).To(MatchError(ContainSubstring("parse batch file")))
		})
	})

	Describe("router", func() {
		It("should dispatch over HTTP and export Prometheus metrics", func() {
			a.start(ctx, false)
			api := httptest.NewServer(a.router())
			defer api.Close()

			body := `{"requests":[{"name":"echo","backend":"beta","arguments":{"message":"hi"}}]}`
			res, err := http.Post(api.URL+"/v1/dispatch", "application/json", strings.NewReader(body))
			Expect(err).NotTo(HaveOccurred())
			defer res.Body.Close()
			Expect(res.StatusCode).To(Equal(http.StatusOK))

			var result handler.BatchResult
			Expect(json.NewDecoder(res.Body).Decode(&result)).To(Succeed())
			Expect(result.Results).To(HaveLen(1))
			Expect(result.Results[0].Data).To(Equal("hi"))

			Eventually(func() string {
				mres, err := http.Get(api.URL + "/metrics")
				if err != nil {
					return ""
				}
				defer mres.Body.Close()
				data, _ := io.ReadAll(mres.Body)
				return string(data)
			}).Should(ContainSubstring(`tool_dispatcher_requests_total{backend="beta",outcome="success"} 1`))
		})
	})

	Describe("health monitoring", func() {
		It("should probe every backend over MCP", func() {
			a.start(ctx, true)

			Eventually(a.monitor.Status).Should(And(
				HaveKeyWithValue("alpha", true),
				HaveKeyWithValue("beta", true),
			))
		})
	})

	It("should close batches before the write timeout", func() {
		// 2 attempts * (5s timeout + 50ms max delay + 0 jitter)
		Expect(batchTimeout(cfg)).To(Equal(10*time.Second + 100*time.Millisecond))
		Expect(writeTimeout(cfg)).To(Equal(batchTimeout(cfg) + 10*time.Second))
	})
})
