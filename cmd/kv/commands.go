package kv

import (
	"fmt"
	"reflect"
	"strconv"
	"time"

	"github.com/ValentinKolb/tkv/cmd/util"
	"github.com/ValentinKolb/tkv/lib/kv"
	"github.com/ValentinKolb/tkv/lib/storage"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	putCmd = &cobra.Command{
		Use:   "put [key] [document...]",
		Short: "Inserts documents, e.g. put users '{\"id\":\"u1\",\"name\":\"bob\"}'",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			docs, err := parseDocuments(args[1:])
			if err != nil {
				return err
			}
			h, err := open(args[0])
			if err != nil {
				return err
			}
			if err := h.InsertMany(cmd.Context(), docs); err != nil {
				return err
			}
			fmt.Printf("inserted=%d\n", len(docs))
			return nil
		},
	}
	updateCmd = &cobra.Command{
		Use:   "update [key] [document...]",
		Short: "Replaces stored documents with the same id",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			docs, err := parseDocuments(args[1:])
			if err != nil {
				return err
			}
			h, err := open(args[0])
			if err != nil {
				return err
			}
			if err := h.UpdateMany(cmd.Context(), docs); err != nil {
				return err
			}
			fmt.Printf("updated=%d\n", len(docs))
			return nil
		},
	}
	upsertCmd = &cobra.Command{
		Use:   "upsert [key] [document]",
		Short: "Inserts or replaces a document (hash and keyed only)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := parseDocument(args[1])
			if err != nil {
				return err
			}
			var created bool
			switch t := viper.GetString("type"); t {
			case TypeHash:
				created, err = storage.NewHash[Document](svc, args[0]).Upsert(cmd.Context(), doc)
			case TypeKeyed:
				created, err = storage.NewKeyed[Document](svc, args[0]).Upsert(cmd.Context(), doc)
			default:
				return fmt.Errorf("%w: upsert on %s", storage.ErrUnsupported, t)
			}
			if err != nil {
				return err
			}
			fmt.Printf("id=%s, created=%t\n", doc.ID, created)
			return nil
		},
	}
	getCmd = &cobra.Command{
		Use:   "get [key] [id]",
		Short: "Reads a document",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := open(args[0])
			if err != nil {
				return err
			}
			doc, err := h.Get(cmd.Context(), args[1])
			if err != nil {
				return err
			}
			fmt.Printf("id=%s, found=%t, doc=%s\n", args[1], doc != nil, render(doc))
			return nil
		},
	}
	allCmd = &cobra.Command{
		Use:   "all [key]",
		Short: "Reads all documents, one per line",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := open(args[0])
			if err != nil {
				return err
			}
			docs, err := h.GetAll(cmd.Context())
			if err != nil {
				return err
			}
			if len(docs) > 0 {
				fmt.Println(renderAll(docs))
			}
			return nil
		},
	}
	countCmd = &cobra.Command{
		Use:   "count [key]",
		Short: "Counts the documents",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := open(args[0])
			if err != nil {
				return err
			}
			n, err := h.Count(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("count=%d\n", n)
			return nil
		},
	}
	delCmd = &cobra.Command{
		Use:   "del [key] [id...]",
		Short: "Deletes documents",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := open(args[0])
			if err != nil {
				return err
			}
			if err := h.DeleteMany(cmd.Context(), args[1:]); err != nil {
				return err
			}
			fmt.Println("deleted successfully")
			return nil
		},
	}
	clearCmd = &cobra.Command{
		Use:   "clear [key]",
		Short: "Deletes all documents",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := open(args[0])
			if err != nil {
				return err
			}
			if err := h.Clear(cmd.Context()); err != nil {
				return err
			}
			fmt.Println("cleared successfully")
			return nil
		},
	}
	setCmd = &cobra.Command{
		Use:   "set [key] [id] [property] [value]",
		Short: "Sets a single property of a document (the value is parsed as JSON if possible)",
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := open(args[0], lockingOption())
			if err != nil {
				return err
			}
			found, err := h.UpdateProperty(cmd.Context(), args[1], args[2], parseValue(args[3]))
			if err != nil {
				return err
			}
			fmt.Printf("id=%s, found=%t\n", args[1], found)
			return nil
		},
	}
	incrCmd = &cobra.Command{
		Use:   "incr [key] [id] [property] [delta]",
		Short: "Adds delta to a numeric property (hash only)",
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			delta, err := strconv.ParseInt(args[3], 10, 64)
			if err != nil {
				return fmt.Errorf("delta must be a number: %w", err)
			}
			if t := viper.GetString("type"); t != TypeHash {
				return fmt.Errorf("%w: incr on %s", storage.ErrUnsupported, t)
			}
			h := storage.NewHash[Document](svc, args[0], lockingOption())
			found, err := h.Increment(cmd.Context(), args[1], args[2], delta)
			if err != nil {
				return err
			}
			fmt.Printf("id=%s, found=%t\n", args[1], found)
			return nil
		},
	}
	findCmd = &cobra.Command{
		Use:   "find [key] [property] [value]",
		Short: "Lists the documents whose property equals value",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := open(args[0])
			if err != nil {
				return err
			}
			want := parseValue(args[2])
			docs, err := h.Where(cmd.Context(), func(d *Document) bool {
				v, ok := d.GetProperty(args[1])
				return ok && reflect.DeepEqual(v, want)
			})
			if err != nil {
				return err
			}
			if len(docs) > 0 {
				fmt.Println(renderAll(docs))
			}
			return nil
		},
	}
	popCmd = &cobra.Command{
		Use:   "pop [key]",
		Short: "Removes and prints the first (or with --right the last) document of a list",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if t := viper.GetString("type"); t != TypeList {
				return fmt.Errorf("%w: pop on %s", storage.ErrUnsupported, t)
			}
			l := storage.NewList[Document](svc, args[0])
			pop := l.PopLeft
			if right, _ := cmd.Flags().GetBool("right"); right {
				pop = l.PopRight
			}
			doc, err := pop(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("found=%t, doc=%s\n", doc != nil, render(doc))
			return nil
		},
	}
	expireCmd = &cobra.Command{
		Use:   "expire [key] [ttl]",
		Short: "Sets the time to live of the documents (e.g. 30s, 10m or seconds)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ttl, err := util.ParseDuration(args[1])
			if err != nil {
				return err
			}
			h, err := open(args[0])
			if err != nil {
				return err
			}
			ok, err := h.Expire(cmd.Context(), ttl)
			if err != nil {
				return err
			}
			fmt.Printf("key=%s, applied=%t\n", args[0], ok)
			return nil
		},
	}
	ttlCmd = &cobra.Command{
		Use:   "ttl [key]",
		Short: "Prints the remaining time to live of the documents",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := open(args[0])
			if err != nil {
				return err
			}
			ttl, err := h.TTL(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("key=%s, ttl=%s\n", args[0], formatTTL(ttl))
			return nil
		},
	}
	persistCmd = &cobra.Command{
		Use:   "persist [key]",
		Short: "Removes the expiry of the documents",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := open(args[0])
			if err != nil {
				return err
			}
			ok, err := h.Persist(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("key=%s, applied=%t\n", args[0], ok)
			return nil
		},
	}
)

func init() {
	popCmd.Flags().Bool("right", false, "Pop the last document instead of the first")

	for _, c := range []*cobra.Command{setCmd, incrCmd} {
		c.Flags().Duration("lock", 0, util.WrapString("Guard the read-modify-write with a lock of this ttl (0 = no lock)"))
	}
}

// lockingOption enables locking if --lock is set
func lockingOption() storage.PolicyOption {
	ttl := viper.GetDuration("lock")
	if ttl <= 0 {
		return func(*storage.Policy) {}
	}
	return storage.Locking(ttl, ttl)
}

func parseDocuments(args []string) ([]*Document, error) {
	docs := make([]*Document, 0, len(args))
	for _, arg := range args {
		doc, err := parseDocument(arg)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func formatTTL(ttl time.Duration) string {
	switch ttl {
	case kv.TTLNoExpiry:
		return "none"
	case kv.TTLMissing:
		return "missing"
	default:
		return ttl.String()
	}
}
