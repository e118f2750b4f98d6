package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var collectionCmd = &cobra.Command{
	Use:   "collection",
	Short: "Manage the movie collection",
}

var collectionCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create the collection if it does not exist",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := getApp(cmd.Context())
		if err != nil {
			return err
		}
		if err := a.Store.EnsureCollection(cmd.Context()); err != nil {
			return fmt.Errorf("create collection: %w", err)
		}
		fmt.Printf("Collection %q ready (%d dimensions, cosine).\n", a.Config.Collection, a.Config.VectorDimension)
		return nil
	},
}

var collectionRecreateCmd = &cobra.Command{
	Use:   "recreate",
	Short: "Drop the collection and create it empty",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := getApp(cmd.Context())
		if err != nil {
			return err
		}
		if err := a.Store.RecreateCollection(cmd.Context()); err != nil {
			return fmt.Errorf("recreate collection: %w", err)
		}
		fmt.Printf("Collection %q recreated.\n", a.Config.Collection)
		return nil
	},
}

var collectionCountCmd = &cobra.Command{
	Use:   "count",
	Short: "Print the number of stored movies",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := getApp(cmd.Context())
		if err != nil {
			return err
		}
		n, err := a.Store.Count(cmd.Context())
		if err != nil {
			return fmt.Errorf("count: %w", err)
		}
		fmt.Printf("%d movies in %q\n", n, a.Config.Collection)
		return nil
	},
}

func init() {
	collectionCmd.AddCommand(collectionCreateCmd)
	collectionCmd.AddCommand(collectionRecreateCmd)
	collectionCmd.AddCommand(collectionCountCmd)
}
