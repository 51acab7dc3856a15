package forkdb

import (
	"testing"

	"github.com/svnnchain/svnn/pkg/blockstate"
	"github.com/svnnchain/svnn/pkg/chain"
)

func mkSaveHeader(prev chain.BlockID, num uint32, ts uint64) *chain.Header {
	return &chain.Header{
		Producer:         "producer.a",
		Timestamp:        ts,
		Previous:         prev,
		ScheduleVersion:  1,
		BlockNum:         num,
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	genesisHeader := mkSaveHeader(chain.BlockID{}, 1, 100)
	root := blockstate.Genesis(genesisHeader, 1, [32]byte{0xAA})
	db := New(root)

	h2 := mkSaveHeader(root.ID, 2, 101)
	claim2 := chain.QCClaim{BlockNum: root.Header.BlockNum, IsStrong: true}
	bs2 := blockstate.New(root, h2, claim2, false, 0, [32]byte{}, 0)
	if err := db.Add(bs2, true, false); err != nil {
		t.Fatalf("add bs2: %v", err)
	}

	h3 := mkSaveHeader(bs2.ID, 3, 102)
	claim3 := chain.QCClaim{BlockNum: bs2.Header.BlockNum, IsStrong: true}
	bs3 := blockstate.New(bs2, h3, claim3, false, 0, [32]byte{}, 0)
	if err := db.Add(bs3, true, false); err != nil {
		t.Fatalf("add bs3: %v", err)
	}

	data, err := db.Save()
	if err != nil {
		t.Fatalf("save: %v", err)
	}

	restored, err := Load(data)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if restored.Root().ID != db.Root().ID {
		t.Fatalf("restored root = %x, want %x", restored.Root().ID, db.Root().ID)
	}
	if restored.Head().ID != db.Head().ID {
		t.Fatalf("restored head = %x, want %x", restored.Head().ID, db.Head().ID)
	}
	if restored.Len() != db.Len() {
		t.Fatalf("restored len = %d, want %d", restored.Len(), db.Len())
	}

	got, ok := restored.GetBlock(bs3.ID)
	if !ok {
		t.Fatal("bs3 missing after restore")
	}
	if got.LastFinalBlockNum != bs3.LastFinalBlockNum {
		t.Fatalf("restored LastFinalBlockNum = %d, want %d", got.LastFinalBlockNum, bs3.LastFinalBlockNum)
	}
	if !got.Validated {
		t.Fatal("block on head's ancestry should be restored as validated")
	}
}

func TestLoadRejectsBadMagic(t *testing.T) {
	_, err := Load([]byte{0, 0, 0, 0, 0, 0, 0, 1})
	if err == nil {
		t.Fatal("expected error for bad magic")
	}
}

func TestLoadRejectsTruncatedData(t *testing.T) {
	genesisHeader := mkSaveHeader(chain.BlockID{}, 1, 100)
	root := blockstate.Genesis(genesisHeader, 1, [32]byte{0xAA})
	db := New(root)

	data, err := db.Save()
	if err != nil {
		t.Fatalf("save: %v", err)
	}

	_, err = Load(data[:len(data)-4])
	if err == nil {
		t.Fatal("expected error for truncated snapshot")
	}
}
