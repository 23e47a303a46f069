package container

import (
	"path/filepath"
	"reflect"
	"testing"

	"github.com/fumin/chebmom/ham"
	"github.com/fumin/chebmom/lattice"
)

func TestDatasets(t *testing.T) {
	t.Parallel()
	f, err := Create(filepath.Join(t.TempDir(), "job.db"))
	if err != nil {
		t.Fatalf("%+v", err)
	}
	defer f.Close()

	if err := f.PutInts("/a/ints", []int64{1, -2, 3}); err != nil {
		t.Fatalf("%+v", err)
	}
	if err := f.PutFloats("/a/floats", []float64{0.5, -1.5}); err != nil {
		t.Fatalf("%+v", err)
	}
	if err := f.PutComplex("/b/c", []complex128{1 + 2i, -3i}); err != nil {
		t.Fatalf("%+v", err)
	}
	if err := f.PutString("/b/s", "xx,y"); err != nil {
		t.Fatalf("%+v", err)
	}

	ints, err := f.Ints("/a/ints")
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if !reflect.DeepEqual(ints, []int64{1, -2, 3}) {
		t.Fatalf("%v", ints)
	}
	floats, err := f.Floats("/a/floats")
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if !reflect.DeepEqual(floats, []float64{0.5, -1.5}) {
		t.Fatalf("%v", floats)
	}
	cs, err := f.Complex("/b/c")
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if !reflect.DeepEqual(cs, []complex128{1 + 2i, -3i}) {
		t.Fatalf("%v", cs)
	}
	s, err := f.String("/b/s")
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if s != "xx,y" {
		t.Fatalf("%q", s)
	}

	// Overwrite replaces.
	if err := f.PutInts("/a/ints", []int64{7}); err != nil {
		t.Fatalf("%+v", err)
	}
	ints, err = f.Ints("/a/ints")
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if !reflect.DeepEqual(ints, []int64{7}) {
		t.Fatalf("%v", ints)
	}

	// Missing datasets and type mismatches are errors.
	if _, err := f.Ints("/missing"); err == nil {
		t.Fatalf("no error")
	}
	if _, err := f.Floats("/a/ints"); err == nil {
		t.Fatalf("no error")
	}

	children, err := f.Children("/a/")
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if !reflect.DeepEqual(children, []string{"floats", "ints"}) {
		t.Fatalf("%v", children)
	}
}

func TestSetupRoundTrip(t *testing.T) {
	t.Parallel()
	setup := &Setup{
		Lat: lattice.Lattice{
			D: 2, Lt: [3]int{8, 8}, Div: [3]int{2, 1}, Orb: 1, Ng: 2, Stride: 4,
			Periodic: [3]bool{true, true},
			A:        [3][3]float64{{0, 0.05, 0}},
		},
		Desc: &ham.Description[complex128]{
			Hops: [][]ham.Hopping[complex128]{{
				{Disp: [3]int{1, 0, 0}, T: 0.25},
				{Disp: [3]int{-1, 0, 0}, T: 0.25},
			}},
			Anderson: []ham.Anderson{{Policy: ham.AndersonPerSite, Dist: ham.Uniform, Width: 0.1}},
			Patterns: []ham.Pattern[complex128]{{
				NodeOffsets:   [][3]int{{0, 0, 0}, {1, 0, 0}},
				NodeOrbs:      []int{0, 0},
				Bonds:         []ham.PatternBond[complex128]{{To: 1, From: 0, T: 0.3}},
				Onsites:       []ham.PatternOnsite{{Node: 0, U: 0.1}},
				Concentration: 0.01,
				FixedAnchors:  [][3]int{{3, 3, 0}},
			}},
			Vacancies: ham.VacancySpec{
				Fixed:         []ham.FixedSite{{Cell: [3]int{0, 0, 0}}},
				Concentration: []float64{0.02},
			},
			Complex: true,
		},
		Precision:   1,
		EnergyScale: 4.2,
		Quantities: []Quantity{
			{Name: "dos", NumMoments: []int{64}, NumRandoms: 8, NumDisorder: 2, Direction: "", NumPoints: 100},
			{Name: "conductivity_dc", NumMoments: []int{32, 32}, NumRandoms: 4, NumDisorder: 1, Direction: "x,x", Temperature: 0.01},
			{Name: "singleshot_conductivity_dc", NumMoments: []int{32, 32}, NumRandoms: 4, NumDisorder: 1, Direction: "x,x", Energies: []float64{0.1, 0.2}, Gamma: 0.02},
		},
	}

	path := filepath.Join(t.TempDir(), "job.db")
	f, err := Create(path)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if err := WriteSetup(f, setup); err != nil {
		t.Fatalf("%+v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("%+v", err)
	}

	f, err = Open(path)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	defer f.Close()
	got, err := ReadSetup(f)
	if err != nil {
		t.Fatalf("%+v", err)
	}

	if got.Precision != setup.Precision || got.EnergyScale != setup.EnergyScale {
		t.Fatalf("%d %f", got.Precision, got.EnergyScale)
	}
	want := setup.Lat
	gotLat := got.Lat
	gotLat.Stride, gotLat.Ng = want.Stride, want.Ng
	if gotLat.D != want.D || gotLat.Lt != want.Lt || gotLat.Div != want.Div ||
		gotLat.Orb != want.Orb || gotLat.Periodic != want.Periodic || gotLat.A != want.A {
		t.Fatalf("%#v, expected %#v", gotLat, want)
	}
	if !reflect.DeepEqual(got.Desc, setup.Desc) {
		t.Fatalf("%#v, expected %#v", got.Desc, setup.Desc)
	}
	// Quantities are listed in path order.
	byName := make(map[string]Quantity)
	for _, q := range got.Quantities {
		byName[q.Name] = q
	}
	for _, q := range setup.Quantities {
		if !reflect.DeepEqual(byName[q.Name], q) {
			t.Fatalf("%#v, expected %#v", byName[q.Name], q)
		}
	}
	if len(got.Quantities) != len(setup.Quantities) {
		t.Fatalf("%d, expected %d", len(got.Quantities), len(setup.Quantities))
	}
}

func TestReadSetupErrors(t *testing.T) {
	t.Parallel()
	base := func() *Setup {
		return &Setup{
			Lat: lattice.Lattice{D: 1, Lt: [3]int{8}, Div: [3]int{1}, Orb: 1, Ng: 2, Stride: 4},
			Desc: &ham.Description[complex128]{
				Hops:    [][]ham.Hopping[complex128]{{}},
				Complex: false,
			},
			Precision:   1,
			EnergyScale: 1,
		}
	}
	tests := []struct {
		name   string
		mutate func(f *File) error
	}{
		{
			name: "unsupported precision",
			mutate: func(f *File) error {
				return f.PutInt("/PRECISION", 2)
			},
		},
		{
			name: "bad dimension",
			mutate: func(f *File) error {
				return f.PutInt("/DIM", 4)
			},
		},
		{
			name: "magnetic field with real amplitudes",
			mutate: func(f *File) error {
				return f.PutInt("/Hamiltonian/MagneticField", 1)
			},
		},
		{
			name: "non power of two moments",
			mutate: func(f *File) error {
				return WriteSetup(f, &Setup{
					Lat:  base().Lat,
					Desc: base().Desc,
					Quantities: []Quantity{
						{Name: "dos", NumMoments: []int{24}, NumRandoms: 1, NumDisorder: 1},
					},
				})
			},
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()
			f, err := Create(filepath.Join(t.TempDir(), "job.db"))
			if err != nil {
				t.Fatalf("%+v", err)
			}
			defer f.Close()
			if err := WriteSetup(f, base()); err != nil {
				t.Fatalf("%+v", err)
			}
			if err := test.mutate(f); err != nil {
				t.Fatalf("%+v", err)
			}
			if _, err := ReadSetup(f); err == nil {
				t.Fatalf("no error")
			}
		})
	}
}
