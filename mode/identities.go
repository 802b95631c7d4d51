package mode

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/khaledhikmat/vs-face/pipeline"
)

// Identities prints every enrolled identity.
func Identities(canxCtx context.Context, svcs pipeline.ServicesFactory, opts Options) error {
	identities, err := svcs.Directory.ListKnownIdentities(canxCtx)
	if err != nil {
		return err
	}

	if len(identities) == 0 {
		fmt.Fprintln(opts.Out, "No identities enrolled.")
		return nil
	}

	w := tabwriter.NewWriter(opts.Out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tEMBEDDING")
	fmt.Fprintln(w, "--\t----\t---------")

	for _, id := range identities {
		fmt.Fprintf(w, "%s\t%s\t%d\n", id.ID, id.Name, len(id.Embedding))
	}
	return w.Flush()
}

// Recognitions prints the match log kept by the data service, oldest first.
func Recognitions(_ context.Context, svcs pipeline.ServicesFactory, opts Options) error {
	recognitions, err := svcs.DataSvc.RetrieveRecognitions()
	if err != nil {
		return err
	}

	if len(recognitions) == 0 {
		fmt.Fprintln(opts.Out, "No recognitions recorded.")
		return nil
	}

	w := tabwriter.NewWriter(opts.Out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "TIME\tID\tSIMILARITY\tSTATUS")
	fmt.Fprintln(w, "----\t--\t----------\t------")

	for _, r := range recognitions {
		fmt.Fprintf(w, "%s\t%s\t%.2f\t%s\n", r.Timestamp.Format(time.RFC3339), r.IdentityID, r.Similarity, r.Status)
	}
	return w.Flush()
}
