package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"feedkeeper/internal/core"
	"feedkeeper/internal/features/follows"
	"feedkeeper/internal/features/follows/services"
)

var (
	ImportCmd = &cobra.Command{
		Use:   "import <file>",
		Short: "Import follows from an OPML outline or a JSON export",
		Args:  cobra.ExactArgs(1),
		RunE:  runImport,
	}
	ExportCmd = &cobra.Command{
		Use:   "export",
		Short: "Export follows as OPML, HTML bookmarks, JSON or an Atom feed",
		Args:  cobra.NoArgs,
		RunE:  runExport,
	}
)

func init() {
	key := "format"
	ImportCmd.Flags().String(key, "", "input format (opml, json); guessed from the file extension when empty")
	ExportCmd.Flags().String(key, services.FormatOPML, "output format (opml, html, json, atom)")
	key = "output"
	ExportCmd.Flags().StringP(key, "o", "", "write to this file instead of stdout")
}

// withStore opens the follows store without starting the server
func withStore(cmd *cobra.Command, fn func(ctx context.Context, store *services.Store) error) error {
	config, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	db, err := core.OpenDatabase(config.Database, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	feature := follows.NewFeature(logger, db, follows.NewConfig(config))
	if err := feature.Open(ctx); err != nil {
		return err
	}
	if err := fn(ctx, feature.Store()); err != nil {
		return err
	}
	return feature.Store().SavePollState(ctx)
}

func runImport(cmd *cobra.Command, args []string) error {
	path := args[0]
	format := viper.GetString("format")
	if format == "" {
		format = guessFormat(path)
	}

	contents, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}

	return withStore(cmd, func(ctx context.Context, store *services.Store) error {
		changed, err := store.ImportFrom(ctx, format, contents)
		if err != nil {
			return fmt.Errorf("%s", core.UserMessage(err))
		}
		fmt.Fprintf(cmd.OutOrStdout(), "imported %d follows from %s\n", len(changed), path)
		return nil
	})
}

func runExport(cmd *cobra.Command, _ []string) error {
	return withStore(cmd, func(ctx context.Context, store *services.Store) error {
		out, err := store.ExportTo(ctx, viper.GetString("format"))
		if err != nil {
			return fmt.Errorf("%s", core.UserMessage(err))
		}
		if path := viper.GetString("output"); path != "" {
			return os.WriteFile(path, out.Contents, 0o644)
		}
		_, err = cmd.OutOrStdout().Write(out.Contents)
		return err
	})
}

func guessFormat(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return services.FormatJSON
	default:
		return services.FormatOPML
	}
}
