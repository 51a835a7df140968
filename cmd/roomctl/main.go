// roomctl inspects the persisted state of the room service: stored room
// snapshots, their affiliation lists and the message history, straight from
// the badger files. Point it at the same BADGER_FILEPATH the server uses
// while the server is stopped.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/gookit/color"
	"github.com/olekukonko/tablewriter"

	"muc-lab/contract"
	"muc-lab/domain/muc"
)

func main() {
	dbPath := flag.String("db", "", "Path to badger DB")
	prefix := flag.String("prefix", "room:", "Prefix to scan (room: or hist:)")
	flag.Parse()

	if *dbPath == "" {
		log.Fatal("missing -db flag")
	}

	db, err := badger.Open(badger.DefaultOptions(*dbPath).
		WithReadOnly(true).
		WithLoggingLevel(badger.ERROR))
	if err != nil {
		log.Fatal("Error while opening Badger: ", err)
	}
	defer db.Close()

	switch {
	case strings.HasPrefix(*prefix, "room:"):
		err = listRooms(db, *prefix)
	case strings.HasPrefix(*prefix, "hist:"):
		err = listHistory(db, *prefix)
	default:
		err = fmt.Errorf("unknown prefix %q", *prefix)
	}
	if err != nil {
		log.Fatal(err)
	}
}

func listRooms(db *badger.DB, prefix string) error {
	table := newTable([]string{"Room", "ID", "Persistent", "Members Only", "Moderated", "Owners", "Members", "Outcasts", "Subject"})

	err := scan(db, prefix, func(key string, value []byte) error {
		var snapshot contract.RoomSnapshot
		if err := json.Unmarshal(value, &snapshot); err != nil {
			fmt.Printf("Error unmarshaling key %s: %v\n", key, err)
			return nil
		}

		table.Append([]string{
			snapshot.Name,
			fmt.Sprintf("%d", snapshot.ID),
			yesNo(snapshot.Persistent),
			yesNo(snapshot.MembersOnly),
			yesNo(snapshot.Moderated),
			fmt.Sprintf("%d", countAffiliation(snapshot, muc.AffiliationOwner)),
			fmt.Sprintf("%d", countAffiliation(snapshot, muc.AffiliationMember)),
			fmt.Sprintf("%d", countAffiliation(snapshot, muc.AffiliationOutcast)),
			truncate(snapshot.Subject, 40),
		})
		return nil
	})
	if err != nil {
		return err
	}

	fmt.Println(color.New(color.BgBlack, color.FgGreen).Render(" Persisted rooms "))
	table.Render()
	return nil
}

func listHistory(db *badger.DB, prefix string) error {
	table := newTable([]string{"Key", "Room", "Nickname", "Sent At", "Body"})

	err := scan(db, prefix, func(key string, value []byte) error {
		var message struct {
			Room     string `json:"room"`
			Nickname string `json:"nickname"`
			Body     string `json:"body"`
			At       string `json:"at"`
		}
		if err := json.Unmarshal(value, &message); err != nil {
			fmt.Printf("Error unmarshaling key %s: %v\n", key, err)
			return nil
		}

		table.Append([]string{
			truncate(key, 48),
			message.Room,
			message.Nickname,
			message.At,
			truncate(message.Body, 60),
		})
		return nil
	})
	if err != nil {
		return err
	}

	fmt.Println(color.New(color.BgBlack, color.FgGreen).Render(" Message history "))
	table.Render()
	return nil
}

func scan(db *badger.DB, prefix string, fn func(key string, value []byte) error) error {
	return db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefixBytes := []byte(prefix)
		for it.Seek(prefixBytes); it.ValidForPrefix(prefixBytes); it.Next() {
			item := it.Item()
			key := string(item.Key())
			// Skip the sequence bookkeeping keys.
			if strings.HasPrefix(key, "seq:") {
				continue
			}
			if err := item.Value(func(v []byte) error {
				return fn(key, v)
			}); err != nil {
				return err
			}
		}
		return nil
	})
}

func newTable(header []string) *tablewriter.Table {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader(header)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")
	return table
}

func countAffiliation(snapshot contract.RoomSnapshot, affiliation muc.Affiliation) int {
	n := 0
	for _, a := range snapshot.Affiliations {
		if a == affiliation {
			n++
		}
	}
	return n
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-1] + "…"
}
