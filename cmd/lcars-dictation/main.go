// Command lcars-dictation is the one-shot dictation helper launched by the
// LCARS OS host. It reads its config file, captures speech and reports only
// through the result files next to the configured output path.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"lcars-os/internal/dictation"
	"lcars-os/internal/dictation/google"
	"lcars-os/internal/dictation/scripted"
	"lcars-os/internal/logging"
)

const (
	recognizerGoogle   = "google"
	recognizerScripted = "scripted"
)

var (
	configPath     string
	recognizerName string
	locale         string
	captureCommand string
	credentials    string
	logLevel       string
)

var rootCmd = &cobra.Command{
	Use:           "lcars-dictation",
	Short:         "Capture one dictation and write the transcript to the result files",
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runDictation,
}

func init() {
	flags := rootCmd.Flags()
	flags.StringVar(&configPath, "config", dictation.DefaultConfigPath(), "two-line helper config (duration seconds, output path)")
	flags.StringVar(&recognizerName, "recognizer", recognizerGoogle, "speech backend: google or scripted")
	flags.StringVar(&locale, "locale", dictation.DefaultLocale, "BCP-47 recognition locale")
	flags.StringVar(&captureCommand, "capture-command", "", "microphone capture command emitting s16le mono audio on stdout")
	flags.StringVar(&credentials, "credentials", "", "Google service account file (defaults to GOOGLE_APPLICATION_CREDENTIALS)")
	flags.StringVar(&logLevel, "log-level", "info", "debug, info, warn or error")
}

func runDictation(cmd *cobra.Command, args []string) error {
	cfg := logging.DefaultConfig("lcars-dictation")
	cfg.Level = logLevel
	logger, closer := logging.Init(cfg)
	defer closer.Close()

	rec, err := newRecognizer()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	session := dictation.NewSession(dictation.Options{
		Config:      dictation.ReadConfig(configPath),
		Recognizer:  rec,
		Locale:      locale,
		GracePeriod: dictation.DefaultGracePeriod,
		Logger:      logger.With().Str("component", "helper").Logger(),
	})
	return session.Run(ctx)
}

func newRecognizer() (dictation.Recognizer, error) {
	switch recognizerName {
	case recognizerGoogle:
		return google.New(google.Options{
			CredentialsFile: credentials,
			CaptureCommand:  google.ParseCaptureCommand(captureCommand, google.DefaultSampleRate),
		}), nil
	case recognizerScripted:
		script, err := scripted.FromEnv()
		if err != nil {
			return nil, err
		}
		return scripted.New(script), nil
	default:
		return nil, fmt.Errorf("unknown recognizer %q", recognizerName)
	}
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		var setupErr *dictation.SetupError
		if !errors.As(err, &setupErr) {
			fmt.Fprintln(os.Stderr, "lcars-dictation:", err)
		}
		os.Exit(1)
	}
}
