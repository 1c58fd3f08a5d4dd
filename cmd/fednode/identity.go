package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/coopfed/fednet/internal/fedid"
)

func newIdentityCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "identity",
		Short: "Generate and inspect federation identities",
	}
	cmd.AddCommand(newIdentityNewCmd())
	cmd.AddCommand(newIdentityShowCmd())
	return cmd
}

func newIdentityNewCmd() *cobra.Command {
	var withMnemonic bool
	cmd := &cobra.Command{
		Use:   "new",
		Short: "Generate a new node identity",
		RunE: func(cmd *cobra.Command, args []string) error {
			if withMnemonic {
				mnemonic, err := fedid.NewMnemonic()
				if err != nil {
					return err
				}
				id, err := fedid.NewFromMnemonic(mnemonic, "")
				if err != nil {
					return err
				}
				fmt.Println("mnemonic:", mnemonic)
				fmt.Println("did:", id.DID())
				return nil
			}
			id, err := fedid.New()
			if err != nil {
				return err
			}
			fmt.Println("did:", id.DID())
			return nil
		},
	}
	cmd.Flags().BoolVar(&withMnemonic, "mnemonic", false, "derive the identity from a freshly generated BIP-39 mnemonic")
	return cmd
}

func newIdentityShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show [did]",
		Short: "Decode and display a did:key identifier's public key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pub, err := fedid.DID(args[0]).PublicKey()
			if err != nil {
				return err
			}
			fmt.Printf("public key: %x\n", pub)
			return nil
		},
	}
}
