package client

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/mwantia/goattach/internal/attachments"
	"github.com/mwantia/goattach/internal/client"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func NewAttachmentsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "attachments",
		Aliases: []string{"att"},
		Short:   "Manage attachments of a running agent",
		Long:    "List, inspect, upload, download and delete attachments through the HTTP interface of a running agent.",
	}

	cmd.PersistentFlags().String("address", "127.0.0.1:4004", "address of the agent")
	cmd.PersistentFlags().String("tenant", "", "tenant the requests are made for")
	cmd.PersistentFlags().Bool("draft", false, "address the draft instead of the active attachments")

	viper.BindPFlag("client.address", cmd.PersistentFlags().Lookup("address"))
	viper.BindPFlag("client.tenant", cmd.PersistentFlags().Lookup("tenant"))

	cmd.AddCommand(newListCommand())
	cmd.AddCommand(newStatCommand())
	cmd.AddCommand(newGetCommand())
	cmd.AddCommand(newPutCommand())
	cmd.AddCommand(newRemoveCommand())
	cmd.AddCommand(newRescanCommand())

	return cmd
}

func newClient() *client.Client {
	return client.New(viper.GetString("client.address"), viper.GetString("client.tenant"))
}

func draftFlag(cmd *cobra.Command) bool {
	draft, _ := cmd.Flags().GetBool("draft")
	return draft
}

func newListCommand() *cobra.Command {
	var humanReadable bool

	cmd := &cobra.Command{
		Use:   "ls <collection>",
		Short: "List attachments",
		Long:  "List all attachments of a collection, e.g. 'Incidents(1)/attachments'.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			list, err := newClient().List(cmd.Context(), args[0], draftFlag(cmd))
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tFILENAME\tMIME TYPE\tSTATUS\tMODIFIED")
			for _, a := range list {
				modified := a.ModifiedAt.Format("2006-01-02 15:04:05")
				if humanReadable {
					modified = humanize.Time(a.ModifiedAt)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", a.ID, a.Filename, a.MimeType, statusOf(a.Status), modified)
			}
			return w.Flush()
		},
	}

	cmd.Flags().BoolVarP(&humanReadable, "human", "H", false, "Enable human-readable format")

	return cmd
}

func newStatCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stat <attachment>",
		Short: "Show attachment metadata",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newClient().Stat(cmd.Context(), args[0], draftFlag(cmd))
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "ID:\t%s\n", a.ID)
			fmt.Fprintf(w, "Filename:\t%s\n", a.Filename)
			fmt.Fprintf(w, "Mime type:\t%s\n", a.MimeType)
			fmt.Fprintf(w, "Status:\t%s\n", statusOf(a.Status))
			if a.LastScan != nil {
				fmt.Fprintf(w, "Last scan:\t%s\n", humanize.Time(*a.LastScan))
			}
			fmt.Fprintf(w, "Hash:\t%s\n", a.Hash)
			if a.Note != "" {
				fmt.Fprintf(w, "Note:\t%s\n", a.Note)
			}
			fmt.Fprintf(w, "Draft:\t%t\n", !a.IsActiveEntity)
			return w.Flush()
		},
	}
}

func newGetCommand() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "get <attachment>",
		Short: "Download attachment content",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var w io.Writer = cmd.OutOrStdout()
			if output != "" {
				file, err := os.Create(output)
				if err != nil {
					return fmt.Errorf("failed to create '%s': %w", output, err)
				}
				defer file.Close()
				w = file
			}

			n, err := newClient().Download(cmd.Context(), args[0], draftFlag(cmd), w)
			if err != nil {
				return err
			}
			if output != "" {
				fmt.Fprintf(cmd.ErrOrStderr(), "Downloaded %s to %s\n", humanize.Bytes(uint64(n)), output)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "write content to file instead of stdout")

	return cmd
}

func newPutCommand() *cobra.Command {
	var mimeType string

	cmd := &cobra.Command{
		Use:   "put <attachment> <file>",
		Short: "Upload attachment content",
		Long:  "Upload the content of a file. The attachment is created when it does not exist yet.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			file, err := os.Open(args[1])
			if err != nil {
				return fmt.Errorf("failed to open '%s': %w", args[1], err)
			}
			defer file.Close()

			info, err := file.Stat()
			if err != nil {
				return err
			}

			filename := filepath.Base(args[1])
			if mimeType == "" {
				mimeType, _ = attachments.MimeTypeOf(filename)
			}

			if err := newClient().Upload(cmd.Context(), args[0], draftFlag(cmd), file, info.Size(), mimeType, filename); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Uploaded %s (%s)\n", filename, humanize.Bytes(uint64(info.Size())))
			return nil
		},
	}

	cmd.Flags().StringVar(&mimeType, "mime-type", "", "mime type of the content (default is derived from the file name)")

	return cmd
}

func newRemoveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <path>",
		Short: "Delete an attachment or everything below an entity instance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return newClient().Delete(cmd.Context(), args[0], draftFlag(cmd))
		},
	}
}

func newRescanCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "rescan <attachment>",
		Short: "Request a new malware scan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := newClient().Rescan(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Scan requested")
			return nil
		},
	}
}

func statusOf(status string) string {
	if status == "" {
		return "Unscanned"
	}
	return status
}
