// ===========================================================================
// scripts/generate_demo_data: Generate a synthetic fleet graph
//
// Usage:
//   go run ./scripts/generate_demo_data --db-path ./vyuha-demo.db
//
// Writes vessels, missions, ports and crews, relationships with validity
// windows, and clustered embeddings so semantic expansion works without an
// embedding provider.
// ===========================================================================
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math"
	"math/rand"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/vyuha/vyuha-explorer/internal/storage"
)

// ---------------------------------------------------------------------------
// Flags
// ---------------------------------------------------------------------------

var (
	dbPath   = flag.String("db-path", "./vyuha-demo.db", "Output SQLite database path")
	seed     = flag.Int64("seed", 42, "Random seed for reproducibility")
	vessels  = flag.Int("vessels", 40, "Number of vessels")
	missions = flag.Int("missions", 120, "Number of missions")
	ports    = flag.Int("ports", 12, "Number of ports")
	crews    = flag.Int("crews", 60, "Number of crews")
	dims     = flag.Int("dims", 64, "Embedding dimensions")
)

const embeddingModel = "demo-clustered"

// ---------------------------------------------------------------------------
// Vocabulary
// ---------------------------------------------------------------------------

var regions = []string{"north", "south", "east", "west"}

var portNames = []string{
	"Harbor", "Anchorage", "Bay", "Sound", "Haven", "Point", "Cove", "Reach",
}

var vesselClasses = []string{"frigate", "corvette", "survey", "tender", "patrol", "icebreaker"}

var vesselNames = []string{
	"Aurora", "Meridian", "Halcyon", "Sentinel", "Tern", "Kestrel", "Resolute",
	"Endeavour", "Petrel", "Corsair", "Valiant", "Skua", "Boreas", "Triton",
}

var flags = []string{"NO", "DK", "IS", "FI", "SE", "NL"}

var missionKinds = []string{"patrol", "survey", "escort", "resupply", "rescue"}

var watches = []string{"Red", "Blue", "Green", "White", "Black", "Gold"}

func main() {
	flag.Parse()

	rng := rand.New(rand.NewSource(*seed))
	ctx := context.Background()

	// Remove any existing demo DB.
	os.Remove(*dbPath)

	log.Println("══════════════════════════════════════════")
	log.Println("  VYUHA — Fleet Demo Data Generator")
	log.Println("══════════════════════════════════════════")
	log.Printf("  DB:    %s", *dbPath)
	log.Printf("  Seed:  %d", *seed)
	log.Println()

	store, err := storage.New(*dbPath)
	if err != nil {
		log.Fatalf("  ✗ Failed to open database: %v", err)
	}
	defer store.Close()

	gen := newGenerator(rng, *dims)

	// =====================================================================
	// Step 1: Entities
	// =====================================================================
	log.Println("[1/3] Generating entities…")

	gen.addPorts(*ports)
	gen.addCrews(*crews)
	gen.addVessels(*vessels)
	gen.addMissions(*missions)

	if err := store.SaveEntities(ctx, gen.entities); err != nil {
		log.Fatalf("  ✗ Failed to save entities: %v", err)
	}
	log.Printf("  ✓ Saved %d entities (%d ports, %d crews, %d vessels, %d missions)",
		len(gen.entities), len(gen.ports), len(gen.crews), len(gen.vessels), len(gen.missions))

	// =====================================================================
	// Step 2: Relationships
	// =====================================================================
	log.Println("[2/3] Generating relationships…")

	gen.linkVessels()
	gen.linkMissions()

	saved, err := store.SaveRelationships(ctx, gen.rels)
	if err != nil {
		log.Fatalf("  ✗ Failed to save relationships: %v", err)
	}
	log.Printf("  ✓ Saved %d relationships (%d skipped)", saved, len(gen.rels)-saved)

	// =====================================================================
	// Step 3: Embeddings
	// =====================================================================
	log.Println("[3/3] Generating clustered embeddings…")

	for i, e := range gen.entities {
		emb := &storage.Embedding{
			ID:       gen.id(),
			EntityID: e.ID,
			Content:  fmt.Sprintf("[%s] %s", e.EntityType, e.Label),
			Vector:   gen.vectors[e.ID],
			Model:    embeddingModel,
		}
		if err := store.SaveEmbedding(ctx, emb); err != nil {
			log.Fatalf("  ✗ Failed to save embedding for %s: %v", e.ID, err)
		}
		if (i+1)%100 == 0 || i+1 == len(gen.entities) {
			log.Printf("  Embedded %d/%d", i+1, len(gen.entities))
		}
	}

	stats, err := store.GetGraphStats(ctx)
	if err != nil {
		log.Fatalf("  ✗ Failed to read stats: %v", err)
	}

	log.Println()
	log.Println("══════════════════════════════════════════")
	log.Printf("  ✓ %d entities, %d links", stats.UniqueNodeCount, stats.TotalLinkCount)
	log.Printf("  Try: vyuha serve --db-path %s", *dbPath)
	if len(gen.vessels) > 0 {
		log.Printf("       vyuha explore --seed %s --semantic", gen.vessels[0].ID)
	}
	log.Println("══════════════════════════════════════════")
}

// ---------------------------------------------------------------------------
// Generator
// ---------------------------------------------------------------------------

type generator struct {
	rng  *rand.Rand
	dims int

	// centroids per entity type and per region; an entity's vector mixes
	// both so missions in one region cluster together.
	typeCentroids   map[string][]float32
	regionCentroids map[string][]float32

	entities []*storage.Entity
	rels     []*storage.Relationship
	vectors  map[string][]float32

	ports    []*storage.Entity
	crews    []*storage.Entity
	vessels  []*storage.Entity
	missions []*storage.Entity

	epoch time.Time
}

func newGenerator(rng *rand.Rand, dims int) *generator {
	g := &generator{
		rng:             rng,
		dims:            dims,
		typeCentroids:   make(map[string][]float32),
		regionCentroids: make(map[string][]float32),
		vectors:         make(map[string][]float32),
		epoch:           time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	for _, t := range []string{"port", "crew", "vessel", "mission"} {
		g.typeCentroids[t] = g.randomVector()
	}
	for _, r := range regions {
		g.regionCentroids[r] = g.randomVector()
	}
	return g
}

// id returns a uuid drawn from the seeded source so runs are reproducible.
func (g *generator) id() string {
	u, err := uuid.NewRandomFromReader(g.rng)
	if err != nil {
		log.Fatalf("  ✗ uuid: %v", err)
	}
	return u.String()
}

func (g *generator) add(e *storage.Entity, region string) {
	g.entities = append(g.entities, e)
	g.vectors[e.ID] = g.embed(e.EntityType, region)
}

func (g *generator) addPorts(n int) {
	for i := 0; i < n; i++ {
		region := regions[i%len(regions)]
		e := &storage.Entity{
			ID:         fmt.Sprintf("port-%03d", i+1),
			EntityType: "port",
			Label:      fmt.Sprintf("%s %s %d", capitalize(region), portNames[g.rng.Intn(len(portNames))], i+1),
			Properties: map[string]any{
				"region": region,
				"berths": 4 + g.rng.Intn(20),
			},
		}
		g.ports = append(g.ports, e)
		g.add(e, region)
	}
}

func (g *generator) addCrews(n int) {
	for i := 0; i < n; i++ {
		region := regions[g.rng.Intn(len(regions))]
		e := &storage.Entity{
			ID:         fmt.Sprintf("crew-%03d", i+1),
			EntityType: "crew",
			Label:      fmt.Sprintf("%s Watch %d", watches[i%len(watches)], i+1),
			Properties: map[string]any{
				"size":   8 + g.rng.Intn(40),
				"region": region,
			},
		}
		g.crews = append(g.crews, e)
		g.add(e, region)
	}
}

func (g *generator) addVessels(n int) {
	for i := 0; i < n; i++ {
		region := regions[g.rng.Intn(len(regions))]
		class := vesselClasses[g.rng.Intn(len(vesselClasses))]
		e := &storage.Entity{
			ID:         fmt.Sprintf("vessel-%03d", i+1),
			EntityType: "vessel",
			Label:      fmt.Sprintf("%s %s", vesselNames[i%len(vesselNames)], romanSuffix(i/len(vesselNames))),
			Properties: map[string]any{
				"class":   class,
				"flag":    flags[g.rng.Intn(len(flags))],
				"tonnage": 800 + g.rng.Intn(9000),
				"region":  region,
			},
		}
		g.vessels = append(g.vessels, e)
		g.add(e, region)
	}
}

func (g *generator) addMissions(n int) {
	for i := 0; i < n; i++ {
		region := regions[g.rng.Intn(len(regions))]
		kind := missionKinds[g.rng.Intn(len(missionKinds))]
		e := &storage.Entity{
			ID:         fmt.Sprintf("mission-%03d", i+1),
			EntityType: "mission",
			Label:      fmt.Sprintf("%s %s %d", capitalize(region), capitalize(kind), i+1),
			Properties: map[string]any{
				"kind":   kind,
				"region": region,
			},
		}
		g.missions = append(g.missions, e)
		g.add(e, region)
	}
}

// linkVessels gives every vessel a home port and a sequence of crew
// rotations with non-overlapping validity windows.
func (g *generator) linkVessels() {
	if len(g.ports) == 0 {
		return
	}
	for _, v := range g.vessels {
		home := g.portIn(regionOf(v))
		g.rel(v.ID, home.ID, "home_port", nil, nil)

		if len(g.crews) == 0 {
			continue
		}
		start := g.epoch.AddDate(0, 0, g.rng.Intn(30))
		rotations := 1 + g.rng.Intn(3)
		for r := 0; r < rotations; r++ {
			end := start.AddDate(0, 2+g.rng.Intn(4), 0)
			crew := g.crews[g.rng.Intn(len(g.crews))]
			s, e := start, end
			g.rel(v.ID, crew.ID, "crewed_by", &s, &e)
			start = end
		}
	}
}

// linkMissions assigns vessels to missions for the mission window and links
// departure and arrival ports, preferring ports in the mission's region.
func (g *generator) linkMissions() {
	if len(g.ports) == 0 || len(g.vessels) == 0 {
		return
	}
	for _, m := range g.missions {
		region := regionOf(m)
		start := g.epoch.AddDate(0, 0, g.rng.Intn(330))
		end := start.AddDate(0, 0, 3+g.rng.Intn(40))

		g.rel(m.ID, g.portIn(region).ID, "departs_from", nil, nil)
		g.rel(m.ID, g.portIn(region).ID, "arrives_at", nil, nil)

		assigned := 1 + g.rng.Intn(3)
		for k := 0; k < assigned; k++ {
			v := g.vesselIn(region)
			s, e := start, end
			g.rel(v.ID, m.ID, "assigned_to", &s, &e)
		}
	}
}

func (g *generator) rel(src, dst, label string, start, end *time.Time) {
	g.rels = append(g.rels, &storage.Relationship{
		ID:         g.id(),
		SourceID:   src,
		TargetID:   dst,
		Label:      label,
		ValidStart: start,
		ValidEnd:   end,
	})
}

// portIn picks a port in region, falling back to any port.
func (g *generator) portIn(region string) *storage.Entity {
	return pickIn(g.rng, g.ports, region)
}

// vesselIn picks a vessel in region with probability 0.8.
func (g *generator) vesselIn(region string) *storage.Entity {
	if g.rng.Float64() < 0.2 {
		return g.vessels[g.rng.Intn(len(g.vessels))]
	}
	return pickIn(g.rng, g.vessels, region)
}

func pickIn(rng *rand.Rand, from []*storage.Entity, region string) *storage.Entity {
	var matches []*storage.Entity
	for _, e := range from {
		if regionOf(e) == region {
			matches = append(matches, e)
		}
	}
	if len(matches) == 0 {
		matches = from
	}
	return matches[rng.Intn(len(matches))]
}

func regionOf(e *storage.Entity) string {
	r, _ := e.Properties["region"].(string)
	return r
}

// ---------------------------------------------------------------------------
// Vectors
// ---------------------------------------------------------------------------

func (g *generator) randomVector() []float32 {
	v := make([]float32, g.dims)
	for i := range v {
		v[i] = float32(g.rng.NormFloat64())
	}
	return normalize(v)
}

// embed mixes the type centroid, the region centroid and noise.
func (g *generator) embed(entityType, region string) []float32 {
	tc := g.typeCentroids[entityType]
	rc := g.regionCentroids[region]
	v := make([]float32, g.dims)
	for i := range v {
		v[i] = 0.6*tc[i] + 0.5*rc[i] + 0.25*float32(g.rng.NormFloat64())
	}
	return normalize(v)
}

func normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	n := float32(math.Sqrt(sum))
	for i := range v {
		v[i] /= n
	}
	return v
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return string(s[0]-'a'+'A') + s[1:]
}

func romanSuffix(n int) string {
	return [...]string{"", "II", "III", "IV", "V", "VI", "VII", "VIII"}[n%8]
}
