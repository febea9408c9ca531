// Package gradle invokes the Gradle build tool against an extracted
// Android project and determines the build outcome.
package gradle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"github.com/your-org/buildrelay/internal/archive"
)

// wrapperArgs is the full flag set used when the project ships its own
// pinned wrapper.
var wrapperArgs = []string{"clean", "assembleDebug", "--no-daemon", "--parallel", "--build-cache"}

// fallbackArgs is the reduced flag set used with a freshly installed
// distribution, where no build cache exists yet.
var fallbackArgs = []string{"assembleDebug", "--no-daemon"}

// Outcome is the pass/fail determination for one build attempt. A zero
// exit code alone is not success: at least one APK must exist under
// the project tree, because Gradle can exit clean without producing an
// artifact (wrong module config, no assembleDebug task).
type Outcome struct {
	Success       bool
	ExitCode      int
	ArtifactCount int
}

// Builder runs Gradle builds. When a project has no wrapper, Builder
// downloads and installs the pinned distribution into a temporary
// location instead.
type Builder struct {
	distBaseURL string
	version     string
	httpClient  *http.Client
	logger      *zap.Logger
}

type Config struct {
	DistBaseURL string
	Version     string
	HTTPClient  *http.Client
	Logger      *zap.Logger
}

// NewBuilder constructs a Builder from the given configuration.
func NewBuilder(cfg Config) *Builder {
	client := cfg.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Builder{
		distBaseURL: strings.TrimRight(cfg.DistBaseURL, "/"),
		version:     cfg.Version,
		httpClient:  client,
		logger:      logger,
	}
}

// Build runs Gradle in projectDir and writes combined process output to
// logPath. It never reports infrastructure problems as errors: every
// failure mode is encoded in the Outcome so downstream notification
// always runs.
func (b *Builder) Build(ctx context.Context, projectDir, logPath string) Outcome {
	bin, args, err := b.resolveTool(ctx, projectDir, filepath.Dir(logPath))
	if err != nil {
		b.logger.Error("resolve build tool", zap.Error(err))
		return Outcome{Success: false, ExitCode: 1}
	}

	exitCode := b.invoke(ctx, bin, args, projectDir, logPath)

	count, err := countArtifacts(projectDir)
	if err != nil {
		b.logger.Warn("scan for artifacts", zap.Error(err))
	}

	return Outcome{
		Success:       exitCode == 0 && count > 0,
		ExitCode:      exitCode,
		ArtifactCount: count,
	}
}

// resolveTool prefers the project's own wrapper. Absent that, it
// installs the pinned distribution under workDir, which shares the
// run's scratch lifetime, and returns the reduced flag set.
func (b *Builder) resolveTool(ctx context.Context, projectDir, workDir string) (string, []string, error) {
	wrapper := filepath.Join(projectDir, "gradlew")
	if info, err := os.Stat(wrapper); err == nil && !info.IsDir() {
		if err := os.Chmod(wrapper, info.Mode().Perm()|0o111); err != nil {
			return "", nil, fmt.Errorf("make wrapper executable: %w", err)
		}
		b.logger.Info("using project gradle wrapper", zap.String("path", wrapper))
		return wrapper, wrapperArgs, nil
	}

	installDir := filepath.Join(workDir, "gradle-dist")
	if err := os.MkdirAll(installDir, 0o755); err != nil {
		return "", nil, fmt.Errorf("create install dir: %w", err)
	}
	bin, err := b.Install(ctx, installDir)
	if err != nil {
		return "", nil, err
	}
	return bin, fallbackArgs, nil
}

// Install downloads the pinned Gradle distribution archive into destDir,
// expands it, and returns the path of the gradle launcher.
func (b *Builder) Install(ctx context.Context, destDir string) (string, error) {
	distURL := fmt.Sprintf("%s/gradle-%s-bin.zip", b.distBaseURL, b.version)
	b.logger.Info("installing gradle distribution", zap.String("url", distURL))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, distURL, nil)
	if err != nil {
		return "", fmt.Errorf("build dist request: %w", err)
	}
	resp, err := b.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("download gradle dist: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download gradle dist: unexpected status %d", resp.StatusCode)
	}

	archivePath := filepath.Join(destDir, "gradle-bin.zip")
	out, err := os.Create(archivePath)
	if err != nil {
		return "", fmt.Errorf("create dist file: %w", err)
	}
	if _, err := io.Copy(out, resp.Body); err != nil {
		out.Close()
		return "", fmt.Errorf("write dist file: %w", err)
	}
	if err := out.Close(); err != nil {
		return "", fmt.Errorf("close dist file: %w", err)
	}

	if err := archive.Extract(archivePath, destDir); err != nil {
		return "", fmt.Errorf("extract gradle dist: %w", err)
	}

	bin := filepath.Join(destDir, fmt.Sprintf("gradle-%s", b.version), "bin", "gradle")
	info, err := os.Stat(bin)
	if err != nil {
		return "", fmt.Errorf("gradle launcher missing after install: %w", err)
	}
	if err := os.Chmod(bin, info.Mode().Perm()|0o111); err != nil {
		return "", fmt.Errorf("make launcher executable: %w", err)
	}
	return bin, nil
}

// invoke runs the build process in its own process group so that a
// cancelled context kills the whole tree, daemon children included.
func (b *Builder) invoke(ctx context.Context, bin string, args []string, projectDir, logPath string) int {
	logFile, err := os.Create(logPath)
	if err != nil {
		b.logger.Error("create build log", zap.Error(err))
		return 1
	}
	defer logFile.Close()

	cmd := exec.Command(bin, args...)
	cmd.Dir = projectDir
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		b.logger.Error("start build process", zap.Error(err))
		return 1
	}

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	select {
	case <-ctx.Done():
		if cmd.Process != nil {
			syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		}
		<-done
		return 124
	case err = <-done:
	}

	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	b.logger.Error("wait for build process", zap.Error(err))
	return 1
}

// countArtifacts walks the project tree counting produced APKs.
func countArtifacts(projectDir string) (int, error) {
	count := 0
	err := filepath.WalkDir(projectDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(d.Name(), ".apk") {
			count++
		}
		return nil
	})
	return count, err
}
