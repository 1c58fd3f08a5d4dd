// Package receipts implements execution receipt issuance, DAG anchoring,
// and the verifiable-credential JSON export shape, kept as separate pure
// and side-effecting steps per the engine's automatic-issuance flow in
// original_source's icn-runtime::engine.
package receipts

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/coopfed/fednet/internal/cid"
	"github.com/coopfed/fednet/internal/dag"
	"github.com/coopfed/fednet/internal/fedid"
)

// Status is the outcome recorded in a Receipt.
type Status int32

const (
	StatusSuccess  Status = 0
	StatusFailure  Status = 1
	StatusPending  Status = 2
	StatusCanceled Status = 3
)

// Receipt is the signed attestation that a module ran. ExecutorDID identifies
// the federation/node identity that signed the receipt; SubmitterDID
// identifies whoever submitted the job. The two are never the same party: a
// receipt self-signed by its own submitter attests nothing.
type Receipt struct {
	ModuleCid    cid.Cid
	InputCid     cid.Cid
	OutputCid    cid.Cid
	ExecutorDID  fedid.DID
	SubmitterDID fedid.DID
	Scope        string
	EventID      string
	TimestampUTC int64 // unix nanoseconds
	Status       Status
	ErrorMessage string
}

// Issue is a pure function building a Receipt from an execution outcome; it
// performs no I/O and does not sign or anchor.
func Issue(moduleCid, inputCid, outputCid cid.Cid, executorDID, submitterDID fedid.DID, scope, eventID string, status Status, errMsg string, now time.Time) Receipt {
	return Receipt{
		ModuleCid:    moduleCid,
		InputCid:     inputCid,
		OutputCid:    outputCid,
		ExecutorDID:  executorDID,
		SubmitterDID: submitterDID,
		Scope:        scope,
		EventID:      eventID,
		TimestampUTC: now.UnixNano(),
		Status:       status,
		ErrorMessage: errMsg,
	}
}

// Sign produces a dag.Node carrying the receipt as a KindReceipt payload,
// signed by id (the federation identity attesting to the execution, not the
// job submitter). It does not anchor it into any store.
func Sign(r Receipt, id *fedid.Identity, parents []cid.Cid) (dag.SignedNode, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return dag.SignedNode{}, fmt.Errorf("receipts: marshal receipt: %w", err)
	}
	node := dag.Node{
		Payload: dag.Payload{
			Kind: dag.KindReceipt,
			Data: data,
		},
		Author:    id.DID(),
		Timestamp: r.TimestampUTC,
		Parents:   parents,
		Meta:      dag.Metadata{Scope: dag.ScopeCooperative, ScopeID: r.Scope},
	}
	return dag.Sign(node, id)
}

// Anchor writes a signed receipt node into store, the side-effecting half of
// issuance. It is the only function in this package that touches the DAG.
func Anchor(store *dag.Store, sn dag.SignedNode, resolver fedid.KeyResolver) (cid.Cid, error) {
	return store.AddNode(sn, resolver)
}

// VerifiableCredential is the JSON export shape for a receipt, the format
// written to a receipt's export directory.
type VerifiableCredential struct {
	Context      []string `json:"@context"`
	Type         []string `json:"type"`
	Issuer       string   `json:"issuer"`
	IssuanceDate string   `json:"issuanceDate"`
	CredentialSubject struct {
		ModuleCid    string `json:"moduleCid"`
		InputCid     string `json:"inputCid"`
		OutputCid    string `json:"outputCid"`
		SubmitterDID string `json:"submitterDid"`
		Scope        string `json:"scope,omitempty"`
		EventID      string `json:"eventId,omitempty"`
		Status       int32  `json:"status"`
		ErrorMessage string `json:"errorMessage,omitempty"`
	} `json:"credentialSubject"`
	Proof struct {
		Type               string `json:"type"`
		Created            string `json:"created"`
		VerificationMethod string `json:"verificationMethod"`
		SignatureValue     string `json:"signatureValue"`
	} `json:"proof"`
}

// ToVC renders a signed receipt node as a verifiable-credential document.
func ToVC(sn dag.SignedNode, r Receipt) VerifiableCredential {
	var vc VerifiableCredential
	vc.Context = []string{"https://www.w3.org/2018/credentials/v1"}
	vc.Type = []string{"VerifiableCredential", "ExecutionReceiptCredential"}
	vc.Issuer = string(r.ExecutorDID)
	vc.IssuanceDate = time.Unix(0, r.TimestampUTC).UTC().Format(time.RFC3339Nano)
	vc.CredentialSubject.ModuleCid = r.ModuleCid.String()
	vc.CredentialSubject.InputCid = r.InputCid.String()
	vc.CredentialSubject.OutputCid = r.OutputCid.String()
	vc.CredentialSubject.SubmitterDID = string(r.SubmitterDID)
	vc.CredentialSubject.Scope = r.Scope
	vc.CredentialSubject.EventID = r.EventID
	vc.CredentialSubject.Status = int32(r.Status)
	vc.CredentialSubject.ErrorMessage = r.ErrorMessage
	vc.Proof.Type = "Ed25519Signature2020"
	vc.Proof.Created = vc.IssuanceDate
	vc.Proof.VerificationMethod = string(r.ExecutorDID)
	vc.Proof.SignatureValue = fmt.Sprintf("%x", sn.Signature)
	return vc
}

// FromVC reconstructs the minimal Receipt fields a VerifiableCredential
// export carries, for re-ingestion/verification.
func FromVC(vc VerifiableCredential) (Receipt, error) {
	moduleCid, err := cid.Parse(vc.CredentialSubject.ModuleCid)
	if err != nil {
		return Receipt{}, fmt.Errorf("receipts: parse moduleCid: %w", err)
	}
	inputCid, err := cid.Parse(vc.CredentialSubject.InputCid)
	if err != nil {
		return Receipt{}, fmt.Errorf("receipts: parse inputCid: %w", err)
	}
	outputCid, err := cid.Parse(vc.CredentialSubject.OutputCid)
	if err != nil {
		return Receipt{}, fmt.Errorf("receipts: parse outputCid: %w", err)
	}
	ts, err := time.Parse(time.RFC3339Nano, vc.IssuanceDate)
	if err != nil {
		return Receipt{}, fmt.Errorf("receipts: parse issuanceDate: %w", err)
	}
	return Receipt{
		ModuleCid:    moduleCid,
		InputCid:     inputCid,
		OutputCid:    outputCid,
		ExecutorDID:  fedid.DID(vc.Issuer),
		SubmitterDID: fedid.DID(vc.CredentialSubject.SubmitterDID),
		Scope:        vc.CredentialSubject.Scope,
		EventID:      vc.CredentialSubject.EventID,
		TimestampUTC: ts.UnixNano(),
		Status:       Status(vc.CredentialSubject.Status),
		ErrorMessage: vc.CredentialSubject.ErrorMessage,
	}, nil
}
