package main

import (
	"github.com/galaxy-dl/galaxy-dl/pkg/rgog"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var (
	packOut          string
	packMaxPartSize  int64
	packPatch        bool
	unpackOut        string
	unpackDebug      bool
	unpackChunksOnly bool
	listDetailed     bool
	listBuildID      uint64
	extractOut       string
	extractBuildID   uint64
	extractReasm     bool
	extractChunksOnl bool
	verifyQuick      bool
)

var packCmd = &cobra.Command{
	Use:   "pack DIR",
	Short: "Scan a v2/meta + v2/store tree and write an RGOG archive",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if packOut == "" {
			return errors.New("-o is required")
		}
		tree, err := rgog.Scan(args[0])
		if err != nil {
			return errors.Wrap(err, "scanning tree")
		}
		opts := rgog.Options{MaxPartSize: packMaxPartSize, Patch: packPatch}
		if err := rgog.Pack(packOut, *tree, opts); err != nil {
			return errors.Wrap(err, "packing archive")
		}
		printf("wrote %s\n", packOut)
		return nil
	},
}

var unpackCmd = &cobra.Command{
	Use:   "unpack ARCHIVE",
	Short: "Reverse pack: write a v2/meta + v2/store tree from an archive",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if unpackOut == "" {
			return errors.New("-o is required")
		}
		arc, err := rgog.Open(args[0])
		if err != nil {
			return errors.Wrap(err, "opening archive")
		}
		defer arc.Close()
		if unpackChunksOnly {
			return arc.Extract(rgog.ExtractOptions{ChunksOnly: true}, unpackOut)
		}
		return arc.Unpack(unpackOut, rgog.UnpackOptions{Debug: unpackDebug})
	},
}

var listCmd = &cobra.Command{
	Use:   "list ARCHIVE",
	Short: "List the builds an archive contains",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		arc, err := rgog.Open(args[0])
		if err != nil {
			return errors.Wrap(err, "opening archive")
		}
		defer arc.Close()
		for _, b := range arc.List() {
			if listBuildID != 0 && b.BuildID != listBuildID {
				continue
			}
			printf("%d\n", b.BuildID)
			if !listDetailed {
				continue
			}
			for _, m := range b.Manifests {
				printf("  %s\t%v\n", m.DepotID, m.Languages)
			}
		}
		return nil
	},
}

var extractCmd = &cobra.Command{
	Use:   "extract ARCHIVE",
	Short: "Materialise files out of an archive",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if extractOut == "" {
			return errors.New("-o is required")
		}
		arc, err := rgog.Open(args[0])
		if err != nil {
			return errors.Wrap(err, "opening archive")
		}
		defer arc.Close()
		opts := rgog.ExtractOptions{
			BuildID:    extractBuildID,
			HasBuildID: cmd.Flags().Changed("build"),
			Reassemble: extractReasm,
			ChunksOnly: extractChunksOnl,
		}
		return arc.Extract(opts, extractOut)
	},
}

var verifyCmd = &cobra.Command{
	Use:   "verify ARCHIVE",
	Short: "Validate an archive's section bounds and, in full mode, content hashes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		arc, err := rgog.Open(args[0])
		if err != nil {
			return errors.Wrap(err, "opening archive")
		}
		defer arc.Close()
		if err := arc.Verify(!verifyQuick); err != nil {
			return err
		}
		printf("ok\n")
		return nil
	},
}

func init() {
	packCmd.Flags().StringVarP(&packOut, "output", "o", "", "output archive base path")
	packCmd.Flags().Int64Var(&packMaxPartSize, "max-part-size", 0, "bound on bytes per part, 0 selects the default (2 GiB)")
	packCmd.Flags().BoolVar(&packPatch, "patch", false, "mark the archive as a patch-type container")

	unpackCmd.Flags().StringVarP(&unpackOut, "output", "o", "", "output directory")
	unpackCmd.Flags().BoolVar(&unpackDebug, "debug", false, "also write pretty-printed JSON copies of every manifest")
	unpackCmd.Flags().BoolVar(&unpackChunksOnly, "chunks-only", false, "write only the raw chunk store, skipping metadata")

	listCmd.Flags().BoolVar(&listDetailed, "detailed", false, "also print each build's depot manifests")
	listCmd.Flags().Uint64Var(&listBuildID, "build", 0, "restrict the listing to one build id")

	extractCmd.Flags().StringVarP(&extractOut, "output", "o", "", "output directory")
	extractCmd.Flags().Uint64Var(&extractBuildID, "build", 0, "restrict extraction to one build id")
	extractCmd.Flags().BoolVar(&extractReasm, "reassemble", false, "reassemble chunks into plaintext files")
	extractCmd.Flags().BoolVar(&extractChunksOnl, "chunks-only", false, "extract the raw chunk store only")
	extractCmd.MarkFlagsMutuallyExclusive("reassemble", "chunks-only")

	verifyCmd.Flags().BoolVar(&verifyQuick, "quick", false, "check section bounds only, skip content hashing")
}
