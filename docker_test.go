package placebook_test

import (
	"os"
	"slices"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

// composeFile はdocker-compose.ymlのうちテストで確認する項目。
type composeFile struct {
	Services map[string]composeService `yaml:"services"`
	Networks map[string]composeNetwork `yaml:"networks"`
}

type composeService struct {
	Image       string            `yaml:"image"`
	Build       string            `yaml:"build"`
	Command     []string          `yaml:"command"`
	Environment map[string]string `yaml:"environment"`
	Networks    []string          `yaml:"networks"`
	Ports       []string          `yaml:"ports"`
	DependsOn   map[string]struct {
		Condition string `yaml:"condition"`
	} `yaml:"depends_on"`
}

type composeNetwork struct {
	Internal bool `yaml:"internal"`
}

func loadCompose(t *testing.T) composeFile {
	t.Helper()
	data, err := os.ReadFile("docker-compose.yml")
	if err != nil {
		t.Fatalf("failed to read docker-compose.yml: %v", err)
	}
	var c composeFile
	if err := yaml.Unmarshal(data, &c); err != nil {
		t.Fatalf("failed to parse docker-compose.yml: %v", err)
	}
	return c
}

func service(t *testing.T, c composeFile, name string) composeService {
	t.Helper()
	svc, ok := c.Services[name]
	if !ok {
		t.Fatalf("docker-compose.yml should define service %q", name)
	}
	return svc
}

// dockerfileStages はFROM行ごとのステージを返す。
func dockerfileStages(t *testing.T) [][]string {
	t.Helper()
	data, err := os.ReadFile("Dockerfile")
	if err != nil {
		t.Fatalf("failed to read Dockerfile: %v", err)
	}
	var stages [][]string
	for _, line := range strings.Split(string(data), "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		if strings.HasPrefix(trimmed, "FROM ") {
			stages = append(stages, nil)
		}
		if len(stages) > 0 {
			stages[len(stages)-1] = append(stages[len(stages)-1], trimmed)
		}
	}
	return stages
}

func stageContains(stage []string, substr string) bool {
	for _, line := range stage {
		if strings.Contains(line, substr) {
			return true
		}
	}
	return false
}

func TestDockerfileStages(t *testing.T) {
	stages := dockerfileStages(t)
	if len(stages) != 2 {
		t.Fatalf("Dockerfile stages = %d, want 2 (build and runtime)", len(stages))
	}

	build, runtime := stages[0], stages[1]
	if !strings.HasPrefix(build[0], "FROM golang:") {
		t.Errorf("build stage should start from golang, got %q", build[0])
	}
	// distroless/static で動く静的バイナリ
	if !stageContains(build, "CGO_ENABLED=0") {
		t.Error("build stage should disable cgo")
	}
	if !stageContains(build, "-o /out/placebook ./cmd/placebook") {
		t.Error("build stage should build ./cmd/placebook into /out/placebook")
	}

	if !strings.Contains(runtime[0], "gcr.io/distroless/static") {
		t.Errorf("runtime stage should use distroless static, got %q", runtime[0])
	}
	if !stageContains(runtime, "USER nonroot") {
		t.Error("runtime stage should run as nonroot")
	}
}

func TestDockerfileRunsPlacebookCommands(t *testing.T) {
	stages := dockerfileStages(t)
	runtime := stages[len(stages)-1]

	want := []string{
		`ENTRYPOINT ["/usr/local/bin/placebook"]`,
		`CMD ["serve"]`,
		`"healthcheck"]`,
	}
	for _, w := range want {
		if !stageContains(runtime, w) {
			t.Errorf("runtime stage should contain %s", w)
		}
	}
}

func TestDockerComposeServiceCommands(t *testing.T) {
	c := loadCompose(t)

	tests := []struct {
		name    string
		command []string
	}{
		{"migrate", []string{"migrate"}},
		{"api", []string{"serve"}},
		{"worker", []string{"worker"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := service(t, c, tt.name)
			if !slices.Equal(svc.Command, tt.command) {
				t.Errorf("command = %v, want %v", svc.Command, tt.command)
			}
			if svc.Build != "." {
				t.Errorf("build = %q, want %q", svc.Build, ".")
			}
			if svc.Environment["STORE_DRIVER"] != "postgres" {
				t.Errorf("STORE_DRIVER = %q, want postgres", svc.Environment["STORE_DRIVER"])
			}
			if !strings.HasPrefix(svc.Environment["DATABASE_URL"], "postgres://") ||
				!strings.Contains(svc.Environment["DATABASE_URL"], "@db:5432/") {
				t.Errorf("DATABASE_URL should point at the db service, got %q", svc.Environment["DATABASE_URL"])
			}
		})
	}
}

func TestDockerComposeStartupOrder(t *testing.T) {
	c := loadCompose(t)

	if cond := service(t, c, "migrate").DependsOn["db"].Condition; cond != "service_healthy" {
		t.Errorf("migrate should wait for a healthy db, got %q", cond)
	}
	// api と worker はマイグレーション完了後に起動する
	for _, name := range []string{"api", "worker"} {
		cond := service(t, c, name).DependsOn["migrate"].Condition
		if cond != "service_completed_successfully" {
			t.Errorf("%s should wait for migrate to complete, got %q", name, cond)
		}
	}
}

func TestDockerComposePostgres(t *testing.T) {
	c := loadCompose(t)
	db := service(t, c, "db")

	if !strings.HasPrefix(db.Image, "postgres:") {
		t.Errorf("db image = %q, want postgres", db.Image)
	}
	if len(db.Ports) != 0 {
		t.Errorf("db should not publish ports, got %v", db.Ports)
	}
}

func TestDockerComposeNetworks(t *testing.T) {
	c := loadCompose(t)

	internal, ok := c.Networks["internal"]
	if !ok || !internal.Internal {
		t.Fatal("docker-compose.yml should define an internal network (internal: true) for egress restriction")
	}
	if external, ok := c.Networks["external"]; !ok || external.Internal {
		t.Fatal("docker-compose.yml should define an external network")
	}

	// 外部API（ジオコーディング、首都一覧）を呼ぶapiだけが外部ネットワークに接続する
	tests := []struct {
		name     string
		networks []string
	}{
		{"db", []string{"internal"}},
		{"migrate", []string{"internal"}},
		{"api", []string{"internal", "external"}},
		{"worker", []string{"internal"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := service(t, c, tt.name).Networks
			if !slices.Equal(got, tt.networks) {
				t.Errorf("networks = %v, want %v", got, tt.networks)
			}
		})
	}
}

func TestDockerComposeAPIPublishesServerPort(t *testing.T) {
	c := loadCompose(t)
	api := service(t, c, "api")

	if !slices.Contains(api.Ports, "8080:8080") {
		t.Errorf("api ports = %v, want 8080:8080", api.Ports)
	}
	if api.Environment["BASE_URL"] == "" {
		t.Error("api should set BASE_URL")
	}
}
