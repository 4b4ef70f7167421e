package kv

import (
	"fmt"

	"github.com/ValentinKolb/tkv/cmd/util"
	"github.com/ValentinKolb/tkv/lib/storage"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Representations selectable with --type
const (
	TypeHash  = "hash"
	TypeList  = "list"
	TypeBlob  = "blob"
	TypeKeyed = "keyed"
)

type handle = storage.IStorage[Document, *Document]

var (
	svc *storage.Service

	// KeyValueCommands represents the KV command group
	KeyValueCommands = &cobra.Command{
		Use:   "kv",
		Short: "Store and query JSON documents",
		Long: `Store and query JSON documents. The documents of a key are stored in one of four
representations (--type): hash (one field per document), list (ordered), blob (all documents
in a single value) or keyed (one key per document, the key argument is the prefix).`,
		PersistentPreRunE:  setupService,
		PersistentPostRunE: closeService,
	}
)

func init() {
	cobra.OnInitialize(util.InitConfig)

	util.SetupClientFlags(KeyValueCommands, 100)
	KeyValueCommands.PersistentFlags().String("type", TypeHash, util.WrapString("The representation of the documents: hash, list, blob or keyed"))

	KeyValueCommands.AddCommand(
		putCmd, updateCmd, upsertCmd, getCmd, allCmd, countCmd, delCmd, clearCmd,
		setCmd, incrCmd, findCmd, popCmd, expireCmd, ttlCmd, persistCmd, perfCmd,
	)
}

// setupService connects to the backend
func setupService(cmd *cobra.Command, _ []string) error {
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}
	var err error
	svc, err = util.NewService()
	return err
}

func closeService(_ *cobra.Command, _ []string) error {
	if svc == nil {
		return nil
	}
	return svc.Store().Close()
}

// open returns the handle for key in the representation selected by --type
func open(key string, opts ...storage.PolicyOption) (handle, error) {
	switch t := viper.GetString("type"); t {
	case TypeHash:
		return storage.NewHash[Document](svc, key, opts...), nil
	case TypeList:
		return storage.NewList[Document](svc, key, opts...), nil
	case TypeBlob:
		return storage.NewBlob[Document](svc, key, opts...), nil
	case TypeKeyed:
		return storage.NewKeyed[Document](svc, key, opts...), nil
	default:
		return nil, fmt.Errorf("invalid type %s (expected one of: hash, list, blob, keyed)", t)
	}
}
