package main

import (
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"

	"github.com/adrianmcphee/cqlstore"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

var (
	mediaCmd = &cobra.Command{
		Use:   "media",
		Short: "Store and fetch binary media attached to records",
	}

	mediaPutCmd = &cobra.Command{
		Use:   "put <record-id> <name> <file>",
		Short: "Store a file as media of a record",
		Long: `Copies the file to a staging location and stores it under
<record-id>_<name>. The original file is left untouched.`,
		Args: cobra.ExactArgs(3),
		RunE: runMediaPut,
	}

	mediaGetCmd = &cobra.Command{
		Use:   "get <record-id> <name>",
		Short: "Write media of a record to stdout or a file",
		Args:  cobra.ExactArgs(2),
		RunE:  runMediaGet,
	}

	mediaRmCmd = &cobra.Command{
		Use:   "rm <record-id> <name>",
		Short: "Delete media of a record",
		Args:  cobra.ExactArgs(2),
		RunE:  runMediaRm,
	}
)

func init() {
	mediaCmd.AddCommand(mediaPutCmd, mediaGetCmd, mediaRmCmd)
	mediaPutCmd.Flags().String("content-type", "", "Content type (default: guessed from the file extension)")
	mediaGetCmd.Flags().StringP("output", "o", "", "Write to this file instead of stdout")
}

func runMediaPut(cmd *cobra.Command, args []string) error {
	recordID, name, path := args[0], args[1], args[2]

	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	fs := a.backend.StagingFs()
	staged, err := stageCopy(fs, path)
	if err != nil {
		return err
	}

	contentType, _ := cmd.Flags().GetString("content-type")
	if contentType == "" {
		contentType = mime.TypeByExtension(filepath.Ext(path))
	}
	meta := cqlstore.MediaMetadata{
		ContentType: contentType,
		Filename:    filepath.Base(path),
	}

	ctx, cancel := commandContext(cmd)
	defer cancel()

	if err := a.backend.Media().Save(ctx, recordID, name, meta, staged); err != nil {
		if cqlstore.IsCommitted(err) {
			a.logger.Warn("media stored but staged copy left behind", "path", staged, "error", err)
			return nil
		}
		fs.Remove(staged)
		return err
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "stored %s\n", cqlstore.MediaKey(recordID, name))
	return nil
}

// stageCopy copies path into a temp file on fs. Save removes the file it
// reads, so the user's file is never handed to it directly.
func stageCopy(fs afero.Fs, path string) (string, error) {
	src, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer src.Close()

	dst, err := afero.TempFile(fs, "", "cqlstore-media-")
	if err != nil {
		return "", fmt.Errorf("create staging file: %w", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		fs.Remove(dst.Name())
		return "", fmt.Errorf("stage %s: %w", path, err)
	}
	if err := dst.Close(); err != nil {
		fs.Remove(dst.Name())
		return "", fmt.Errorf("stage %s: %w", path, err)
	}
	return dst.Name(), nil
}

// writerSink sends media to a plain writer. NotFound is recorded so the
// command can fail instead of printing nothing.
type writerSink struct {
	w        io.Writer
	notFound bool
}

func (s *writerSink) SetContentType(string) {}

func (s *writerSink) Write(p []byte) (int, error) {
	return s.w.Write(p)
}

func (s *writerSink) NotFound() {
	s.notFound = true
}

func runMediaGet(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := commandContext(cmd)
	defer cancel()

	output, _ := cmd.Flags().GetString("output")
	if output == "" {
		sink := &writerSink{w: cmd.OutOrStdout()}
		if err := a.backend.Media().Send(ctx, args[0], args[1], sink); err != nil {
			return err
		}
		if sink.notFound {
			return fmt.Errorf("%s: %w", cqlstore.MediaKey(args[0], args[1]), cqlstore.ErrNotFound)
		}
		return nil
	}

	// Buffer through a temp file so a failed read never truncates an
	// existing output file
	fs := afero.NewOsFs()
	tmp, err := afero.TempFile(fs, filepath.Dir(output), ".cqlstore-")
	if err != nil {
		return err
	}
	defer fs.Remove(tmp.Name())

	sink := &writerSink{w: tmp}
	sendErr := a.backend.Media().Send(ctx, args[0], args[1], sink)
	if err := tmp.Close(); err != nil && sendErr == nil {
		sendErr = err
	}
	if sendErr != nil {
		return sendErr
	}
	if sink.notFound {
		return fmt.Errorf("%s: %w", cqlstore.MediaKey(args[0], args[1]), cqlstore.ErrNotFound)
	}
	return fs.Rename(tmp.Name(), output)
}

func runMediaRm(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := commandContext(cmd)
	defer cancel()

	return a.backend.Media().Delete(ctx, args[0], args[1])
}
