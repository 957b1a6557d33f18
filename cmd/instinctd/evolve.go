package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/instinctd/internal/evolution"
)

var (
	evolveAccept  bool
	evolveEmitDir string
)

// evolveCmd proposes evolution clusters and optionally accepts them.
var evolveCmd = &cobra.Command{
	Use:   "evolve",
	Short: "Propose evolution clusters from mature instincts",
	Long: `Evolve groups active instincts by domain and action similarity and
validates evolution eligibility. Without --accept it only reports the
proposals. With --accept, valid clusters are handed to the artifact
emitter (a local directory writer) and their members archived with a
back-reference to the generated artifact.

Examples:
  instinctd evolve
  instinctd evolve --accept --emit-dir ./artifacts`,
	RunE: runEvolve,
}

func init() {
	evolveCmd.Flags().BoolVar(&evolveAccept, "accept", false, "emit valid clusters and archive their members")
	evolveCmd.Flags().StringVar(&evolveEmitDir, "emit-dir", "artifacts", "directory the local emitter writes cluster descriptions to")
}

func runEvolve(cmd *cobra.Command, args []string) error {
	eng, err := setup()
	if err != nil {
		return err
	}
	defer eng.close()

	clusterer, err := eng.clusterer()
	if err != nil {
		return err
	}

	var clusters []evolution.Cluster
	if evolveAccept {
		clusters, err = clusterer.Evolve(cmd.Context(), &dirEmitter{dir: evolveEmitDir})
	} else {
		clusters, err = clusterer.ProposeClusters(cmd.Context())
	}
	if err != nil {
		return err
	}

	for _, cluster := range clusters {
		if cluster.Valid {
			fmt.Printf("valid   %-7s %-12s members=%d\n",
				cluster.ArtifactType, cluster.Domain, len(cluster.MemberIDs))
		} else {
			fmt.Printf("invalid %-7s %-12s members=%d reason=%q\n",
				cluster.ArtifactType, cluster.Domain, len(cluster.MemberIDs), cluster.Reason)
		}
		fmt.Printf("        %s\n", strings.Join(cluster.MemberIDs, ", "))
	}
	return nil
}

// dirEmitter is a minimal artifact emitter for local use: it writes the
// cluster description as JSON and returns a generated artifact id. Real
// artifact synthesis lives outside the engine boundary.
type dirEmitter struct {
	dir string
}

func (e *dirEmitter) Emit(ctx context.Context, cluster evolution.Cluster) (string, error) {
	if err := os.MkdirAll(e.dir, 0700); err != nil {
		return "", fmt.Errorf("creating emit directory: %w", err)
	}
	artifactID := fmt.Sprintf("%s-%s", cluster.ArtifactType, uuid.New().String()[:8])
	data, err := json.MarshalIndent(cluster, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding cluster: %w", err)
	}
	path := filepath.Join(e.dir, artifactID+".json")
	if err := os.WriteFile(path, data, 0600); err != nil {
		return "", fmt.Errorf("writing cluster description: %w", err)
	}
	return artifactID, nil
}
