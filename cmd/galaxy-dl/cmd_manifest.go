package main

import (
	"fmt"
	"os"

	"github.com/galaxy-dl/galaxy-dl/internal/manifest"
	"github.com/galaxy-dl/galaxy-dl/pkg/rgog"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var infoPlatform string
var infoStats bool

// infoCmd is overloaded per spec §6: an argument that opens as an RGOG
// archive is treated as `info ARCHIVE`; anything else is treated as
// `info PID`, which lists the product's builds as TSV.
var infoCmd = &cobra.Command{
	Use:   "info (PID|ARCHIVE)",
	Short: "Print a product's builds, or an archive's summary",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		target := args[0]
		if arc, err := rgog.Open(target); err == nil {
			defer arc.Close()
			return printArchiveInfo(arc)
		}
		return printBuildsTSV(cmd, target)
	},
}

func printArchiveInfo(arc *rgog.Archive) error {
	stats := arc.Info(infoStats)
	printf("parts\t%d\n", stats.TotalParts)
	printf("builds\t%d\n", stats.TotalBuilds)
	printf("chunks\t%d\n", stats.TotalChunks)
	if infoStats {
		printf("chunk_bytes\t%d\n", stats.TotalChunkBytes)
		printf("build_bytes\t%d\n", stats.TotalBuildBytes)
		printf("products\t%d\n", stats.DistinctProducts)
		printf("compression_ratio\t%.3f\n", stats.CompressionRatio)
	}
	return nil
}

// printBuildsTSV prints index\tbuild_id\tgeneration\tdate\tversion. The
// wire builds response carries no version field (spec §4.1's builds
// endpoint and §4.2's BuildInfo both omit it); the first free-form tag,
// when present, is the closest available proxy, else the column is
// left empty rather than fabricated.
func printBuildsTSV(cmd *cobra.Command, pid string) error {
	resolver := manifest.New(newCDNClient())
	builds, err := resolver.ListAllBuilds(cmd.Context(), pid, infoPlatform)
	if err != nil {
		return errors.Wrap(err, "listing builds")
	}
	for i, b := range builds {
		version := ""
		if len(b.Tags) > 0 {
			version = b.Tags[0]
		}
		fmt.Fprintf(os.Stdout, "%d\t%s\t%d\t%s\t%s\n", i, b.BuildID, int(b.Generation), b.DatePublished, version)
	}
	return nil
}

func init() {
	infoCmd.Flags().StringVar(&infoPlatform, "platform", "windows", "platform to query when the argument is a product id")
	infoCmd.Flags().BoolVar(&infoStats, "stats", false, "include byte totals when the argument is an archive")
}
