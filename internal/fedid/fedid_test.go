package fedid

import "testing"

func TestNewAndSignVerify(t *testing.T) {
	id, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	msg := []byte("hello federation")
	sig := id.Sign(msg)

	ok, err := id.DID().Verify(msg, sig)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !ok {
		t.Fatal("expected signature to verify")
	}

	if ok, _ := id.DID().Verify([]byte("tampered"), sig); ok {
		t.Fatal("expected tampered message to fail verification")
	}
}

func TestDIDRoundTrip(t *testing.T) {
	id, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	pub, err := id.DID().PublicKey()
	if err != nil {
		t.Fatalf("PublicKey: %v", err)
	}
	if string(pub) != string(id.PublicKey()) {
		t.Fatal("decoded public key does not match original")
	}
}

func TestInvalidDID(t *testing.T) {
	if _, err := DID("not-a-did").PublicKey(); err == nil {
		t.Fatal("expected error for malformed did")
	}
	if _, err := DID("did:key:zInvalidBase58!!!").PublicKey(); err == nil {
		t.Fatal("expected error for invalid multibase payload")
	}
}

func TestMnemonicRoundTrip(t *testing.T) {
	mnemonic, err := NewMnemonic()
	if err != nil {
		t.Fatalf("NewMnemonic: %v", err)
	}
	id1, err := NewFromMnemonic(mnemonic, "")
	if err != nil {
		t.Fatalf("NewFromMnemonic: %v", err)
	}
	id2, err := NewFromMnemonic(mnemonic, "")
	if err != nil {
		t.Fatalf("NewFromMnemonic: %v", err)
	}
	if id1.DID() != id2.DID() {
		t.Fatal("same mnemonic should derive the same DID")
	}
}

func TestStaticResolver(t *testing.T) {
	id, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	resolver := StaticResolver{id.DID(): id.PublicKey()}
	if _, err := resolver.Resolve(id.DID()); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if _, err := resolver.Resolve(DID("did:key:unknown")); err == nil {
		t.Fatal("expected resolution failure for unknown did")
	}
}
