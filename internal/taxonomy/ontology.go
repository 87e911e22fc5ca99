package taxonomy

// defaultOntology is the built-in tag ontology evaluated by the kernel.
// tag_parent(Child, Parent) edges define the hierarchy; keyword_tag maps
// request vocabulary onto tags. User rules from TaxonomyConfig.RulesPath
// are appended before analysis and may add facts to either predicate.
const defaultOntology = `
# ============================================================
# Tag hierarchy: tag_parent(Child, Parent)
# ============================================================

# Backend languages and runtimes
tag_parent("go", "backend").
tag_parent("rust", "backend").
tag_parent("python", "backend").
tag_parent("java", "backend").
tag_parent("node", "backend").
tag_parent("grpc", "backend").

# Frontend
tag_parent("react", "frontend").
tag_parent("vue", "frontend").
tag_parent("javascript", "frontend").
tag_parent("typescript", "frontend").
tag_parent("css", "frontend").

# Storage
tag_parent("sql", "database").
tag_parent("postgres", "database").
tag_parent("mysql", "database").
tag_parent("sqlite", "database").
tag_parent("redis", "database").
tag_parent("database", "storage").
tag_parent("caching", "storage").

# Operations
tag_parent("docker", "deployment").
tag_parent("kubernetes", "deployment").
tag_parent("terraform", "deployment").
tag_parent("ci", "deployment").
tag_parent("deployment", "ops").
tag_parent("monitoring", "ops").

# Quality
tag_parent("testing", "quality").
tag_parent("linting", "quality").
tag_parent("benchmarks", "quality").

# Security
tag_parent("auth", "security").
tag_parent("crypto", "security").
tag_parent("secrets", "security").

# Performance
tag_parent("profiling", "performance").
tag_parent("concurrency", "performance").

# ============================================================
# Request vocabulary: keyword_tag(Keyword, Tag)
# ============================================================

keyword_tag("golang", "go").
keyword_tag("goroutine", "go").
keyword_tag("goroutines", "go").

keyword_tag("api", "backend").
keyword_tag("endpoint", "backend").
keyword_tag("handler", "backend").
keyword_tag("server", "backend").
keyword_tag("grpc", "grpc").

keyword_tag("component", "frontend").
keyword_tag("render", "frontend").
keyword_tag("dom", "frontend").
keyword_tag("ui", "frontend").

keyword_tag("query", "sql").
keyword_tag("queries", "sql").
keyword_tag("index", "database").
keyword_tag("migration", "database").
keyword_tag("schema", "database").
keyword_tag("postgres", "postgres").
keyword_tag("sqlite", "sqlite").
keyword_tag("cache", "caching").
keyword_tag("caching", "caching").

keyword_tag("deploy", "deployment").
keyword_tag("deployment", "deployment").
keyword_tag("rollout", "deployment").
keyword_tag("container", "docker").
keyword_tag("dockerfile", "docker").
keyword_tag("k8s", "kubernetes").
keyword_tag("kubernetes", "kubernetes").
keyword_tag("helm", "kubernetes").
keyword_tag("pipeline", "ci").

keyword_tag("test", "testing").
keyword_tag("tests", "testing").
keyword_tag("coverage", "testing").
keyword_tag("flaky", "testing").
keyword_tag("lint", "linting").
keyword_tag("benchmark", "benchmarks").

keyword_tag("auth", "auth").
keyword_tag("login", "auth").
keyword_tag("token", "auth").
keyword_tag("oauth", "auth").
keyword_tag("vulnerability", "security").
keyword_tag("cve", "security").
keyword_tag("injection", "security").

keyword_tag("latency", "performance").
keyword_tag("throughput", "performance").
keyword_tag("slow", "performance").
keyword_tag("profiling", "profiling").
keyword_tag("deadlock", "concurrency").
keyword_tag("race", "concurrency").
keyword_tag("mutex", "concurrency").

# ============================================================
# Derived relations
# ============================================================

tag_ancestor(C, P) :- tag_parent(C, P).
tag_ancestor(C, A) :- tag_parent(C, P), tag_ancestor(P, A).
`

// profileRules derives profile/domain membership once profile_tag facts
// are loaded. Kept separate from defaultOntology: rules referencing a
// predicate with no facts would fail analysis.
const profileRules = `
profile_domain(Id, Tag) :- profile_tag(Id, Tag).
profile_domain(Id, A) :- profile_tag(Id, Tag), tag_ancestor(Tag, A).
`
