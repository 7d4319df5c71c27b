package main

import (
	"fmt"
	"os"
	"time"

	"github.com/gophersatwork/indexcache"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// buildConfig mirrors the optional YAML config file:
//
//	roots:
//	  - /srv/packages
//	output: pkg-index.json
type buildConfig struct {
	Roots  []string `yaml:"roots"`
	Output string   `yaml:"output"`
}

func loadBuildConfig(path string) (*buildConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg buildConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return &cfg, nil
}

func newBuildCmd() *cobra.Command {
	var (
		configPath string
		output     string
	)

	cmd := &cobra.Command{
		Use:   "build [root...]",
		Short: "Scan package roots and serialize the listing index",
		Long: `Scans each package root for distribution files and writes the
combined listing index to the output file. Roots come from the command
line, a YAML config file, or both.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logrus.New()

			roots := args
			if configPath != "" {
				cfg, err := loadBuildConfig(configPath)
				if err != nil {
					return err
				}
				roots = append(cfg.Roots, roots...)
				if !cmd.Flags().Changed("output") && cfg.Output != "" {
					output = cfg.Output
				}
			}
			if len(roots) == 0 {
				return fmt.Errorf("no package roots given")
			}

			fs := afero.NewOsFs()
			cache, err := indexcache.NewSnapshotCache("",
				indexcache.WithFs(fs),
				indexcache.WithLogger(log),
			)
			if err != nil {
				return err
			}
			defer cache.Close()

			lister := func(root string) ([]indexcache.PkgEntry, error) {
				return indexcache.ListPackages(fs, root)
			}

			for _, root := range roots {
				start := time.Now()
				entries, err := cache.ForceUpdate(root, lister)
				if err != nil {
					return fmt.Errorf("failed to index %s: %w", root, err)
				}
				log.WithFields(logrus.Fields{
					"root":    root,
					"entries": len(entries),
					"elapsed": time.Since(start).Round(time.Millisecond),
				}).Info("indexed root")
			}

			if err := cache.Serialize(output); err != nil {
				return err
			}

			stats := cache.Stats()
			log.WithFields(logrus.Fields{
				"roots":   stats.Roots,
				"entries": stats.Entries,
				"output":  output,
			}).Info("index written")
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "pkg-index.json", "path of the snapshot file to write")
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "YAML config file with roots and output path")
	return cmd
}
