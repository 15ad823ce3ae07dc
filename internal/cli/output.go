package cli

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/EpicMandM/esxi-snapshot-service/internal/models"
)

func newTabWriter(out io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(out, 2, 0, 2, ' ', 0)
}

// printList writes one row per snapshot.
func printList(out io.Writer, resp *models.SnapshotListResponse) error {
	if resp == nil || len(resp.Snapshots) == 0 {
		vm := ""
		if resp != nil {
			vm = resp.VM
		}
		_, err := fmt.Fprintf(out, "No snapshots found for VM %s\n", vm)
		return err
	}

	tw := newTabWriter(out)
	if _, err := fmt.Fprintln(tw, "NAME\tCREATED\tSTATE\tDESCRIPTION"); err != nil {
		return err
	}
	for _, s := range resp.Snapshots {
		if _, err := fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", s.Name, s.CreateTime, s.SnapshotState, s.Description); err != nil {
			return err
		}
	}
	return tw.Flush()
}

func printCurrent(out io.Writer, vm string, cur *models.SnapshotSummary) error {
	if _, err := fmt.Fprintf(out, "Virtual machine %s current snapshot is:\n", vm); err != nil {
		return err
	}
	tw := newTabWriter(out)
	rows := [][2]string{
		{"Name", cur.Name},
		{"Created", cur.CreateTime},
		{"State", cur.SnapshotState},
		{"Description", cur.Description},
	}
	for _, r := range rows {
		if _, err := fmt.Fprintf(tw, "%s:\t%s\n", r[0], r[1]); err != nil {
			return err
		}
	}
	return tw.Flush()
}

func printCreated(out io.Writer, resp *models.CreateSnapshotResponse) error {
	memory := "no in-memory"
	if resp.Memory {
		memory = "memory"
	}
	_, err := fmt.Fprintf(out, "Snapshot %s is taken on VM %s with %s\n", resp.Snapshot, resp.VM, memory)
	return err
}
